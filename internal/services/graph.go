package services

import "fmt"

// CheckAcyclic строит направленный граф зависимостей сервисов (ребро A->B,
// если B потребляет топик, который публикует A) и отклоняет случайные циклы
// на этапе конструирования. Рантайм остаётся чистым publish/subscribe.
func CheckAcyclic(services []Service) error {
	publishers := make(map[string][]int) // topic -> индексы публикующих сервисов
	for i, s := range services {
		for _, topic := range s.Publishes() {
			publishers[topic] = append(publishers[topic], i)
		}
	}

	adj := make(map[int][]int)
	for i, s := range services {
		for _, topic := range s.Consumes() {
			for _, from := range publishers[topic] {
				if from != i {
					adj[from] = append(adj[from], i)
				}
			}
		}
	}

	const (
		unvisited = 0
		inStack   = 1
		done      = 2
	)
	state := make([]int, len(services))

	var visit func(int) error
	visit = func(n int) error {
		state[n] = inStack
		for _, next := range adj[n] {
			switch state[next] {
			case inStack:
				return fmt.Errorf("цикл зависимостей сервисов: %s -> %s",
					services[n].Name(), services[next].Name())
			case unvisited:
				if err := visit(next); err != nil {
					return err
				}
			}
		}
		state[n] = done
		return nil
	}

	for i := range services {
		if state[i] == unvisited {
			if err := visit(i); err != nil {
				return err
			}
		}
	}
	return nil
}
