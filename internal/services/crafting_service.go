package services

import (
	"context"
	"errors"

	"github.com/churst90/open-fps-sub000/internal/eventbus"
	"github.com/churst90/open-fps-sub000/internal/logging"
	"github.com/churst90/open-fps-sub000/internal/protocol"
	"github.com/churst90/open-fps-sub000/internal/storage"
)

// CraftingService выполняет рецепты: проверяет ингредиенты в инвентаре,
// списывает их и добавляет результат. Инвентарь сохраняется до
// подтверждения; при ошибке записи мутация откатывается.
type CraftingService struct {
	deps   Deps
	guard  *Guard
	logger *logging.Logger
}

// NewCraftingService создаёт сервис крафта.
func NewCraftingService(deps Deps, guard *Guard) *CraftingService {
	return &CraftingService{
		deps:   deps,
		guard:  guard,
		logger: logging.GetServiceLogger("crafting"),
	}
}

func (s *CraftingService) Name() string { return "crafting" }

func (s *CraftingService) Consumes() []string {
	return []string{string(protocol.MsgCraftRequest)}
}

func (s *CraftingService) Publishes() []string {
	return []string{
		string(protocol.MsgCraftOK),
		string(protocol.MsgCraftFail),
	}
}

func (s *CraftingService) Register(bus eventbus.Bus) {
	bus.Subscribe(string(protocol.MsgCraftRequest), s.handleCraft)
}

func (s *CraftingService) fail(ctx context.Context, connID, reason string) {
	emit(ctx, s.deps.Bus, s.deps.Net, connID, protocol.NewFail(protocol.MsgCraftFail, reason))
}

func (s *CraftingService) handleCraft(ctx context.Context, ev eventbus.Event) {
	if _, err := s.guard.Authenticate(ev.Message, ev.ConnID); err != nil {
		s.fail(ctx, ev.ConnID, reasonNotAuthenticated)
		return
	}
	user, ok := s.deps.World.Online(ev.Message.Username)
	if !ok {
		s.fail(ctx, ev.ConnID, reasonNotAuthenticated)
		return
	}

	var req protocol.CraftRequest
	if err := ev.Message.DecodeData(&req); err != nil || req.RecipeKey == "" {
		s.fail(ctx, ev.ConnID, "Malformed request")
		return
	}

	recipe, err := s.deps.Repos.Recipes.Load(ctx, req.RecipeKey)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			s.fail(ctx, ev.ConnID, "Recipe not found")
			return
		}
		s.logger.Error("Ошибка загрузки рецепта %s: %v", req.RecipeKey, err)
		s.fail(ctx, ev.ConnID, reasonServerError)
		return
	}

	// Сперва полная проверка, затем списание: частичного крафта не бывает.
	for item, need := range recipe.Ingredients {
		if user.Inventory[item] < need {
			s.fail(ctx, ev.ConnID, "Missing ingredients")
			return
		}
	}

	prev := make(map[string]int, len(user.Inventory))
	for k, v := range user.Inventory {
		prev[k] = v
	}

	for item, need := range recipe.Ingredients {
		user.Inventory[item] -= need
		if user.Inventory[item] == 0 {
			delete(user.Inventory, item)
		}
	}
	user.Inventory[recipe.ResultItem]++

	if err := s.deps.Repos.Users.Save(ctx, user); err != nil {
		user.Inventory = prev
		s.logger.Error("Ошибка сохранения инвентаря %s: %v", user.Username, err)
		s.fail(ctx, ev.ConnID, reasonServerError)
		return
	}

	s.logger.Debug("Пользователь %s скрафтил %s по рецепту %s",
		user.Username, recipe.ResultItem, recipe.Key)
	emit(ctx, s.deps.Bus, s.deps.Net, ev.ConnID, protocol.NewOK(protocol.MsgCraftOK, map[string]interface{}{
		"recipe_key":  recipe.Key,
		"result_item": recipe.ResultItem,
		"inventory":   user.Inventory,
	}))
}
