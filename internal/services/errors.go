package services

import "errors"

// Таксономия ошибок сервисного слоя. Все они перехватываются на границе
// сервиса и превращаются в приватное _fail событие с человекочитаемой
// причиной; ни одна не роняет задачу соединения и не затрагивает другие
// соединения.
var (
	// ErrValidation — битые/отсутствующие поля запроса; отклоняется до
	// прикосновения к состоянию.
	ErrValidation = errors.New("validation error")

	// ErrAuthentication — отсутствующий/просроченный/чужой токен;
	// отклоняется до прикосновения к состоянию.
	ErrAuthentication = errors.New("authentication error")

	// ErrAuthorization — аутентифицирован, но нет прав/владения.
	ErrAuthorization = errors.New("authorization error")

	// ErrNotFound — ссылка на несуществующую карту/пользователя/сущность.
	ErrNotFound = errors.New("not found")

	// ErrCollision — позиция не прошла проверку границ/стен/занятости.
	ErrCollision = errors.New("collision error")

	// ErrPersistence — отказ записи репозитория; серверная ошибка,
	// состояние в памяти откатывается к домутационному.
	ErrPersistence = errors.New("persistence error")
)

// Стандартные причины отказа, уходящие клиенту.
const (
	reasonNotAuthenticated = "Not authenticated"
	reasonNoPermission     = "Insufficient permissions"
	reasonBadCredentials   = "Invalid username or password"
	reasonAccountExists    = "Username already exists"
	reasonServerError      = "Internal server error"
)
