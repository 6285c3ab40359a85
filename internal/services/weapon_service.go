package services

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/churst90/open-fps-sub000/internal/eventbus"
	"github.com/churst90/open-fps-sub000/internal/logging"
	"github.com/churst90/open-fps-sub000/internal/protocol"
	"github.com/churst90/open-fps-sub000/internal/storage"
	"github.com/churst90/open-fps-sub000/internal/world"
)

// WeaponService регистрирует описания оружия и экипировку. Создание
// доступно ролям admin/developer, экипировка — любому залогиненному.
type WeaponService struct {
	deps   Deps
	guard  *Guard
	logger *logging.Logger
}

// NewWeaponService создаёт сервис оружия.
func NewWeaponService(deps Deps, guard *Guard) *WeaponService {
	return &WeaponService{
		deps:   deps,
		guard:  guard,
		logger: logging.GetServiceLogger("weapon"),
	}
}

func (s *WeaponService) Name() string { return "weapon" }

func (s *WeaponService) Consumes() []string {
	return []string{
		string(protocol.MsgWeaponCreateRequest),
		string(protocol.MsgWeaponEquipRequest),
	}
}

func (s *WeaponService) Publishes() []string {
	return []string{
		string(protocol.MsgWeaponCreateOK),
		string(protocol.MsgWeaponCreateFail),
		string(protocol.MsgWeaponEquipOK),
		string(protocol.MsgWeaponEquipFail),
	}
}

func (s *WeaponService) Register(bus eventbus.Bus) {
	bus.Subscribe(string(protocol.MsgWeaponCreateRequest), s.handleCreate)
	bus.Subscribe(string(protocol.MsgWeaponEquipRequest), s.handleEquip)
}

func (s *WeaponService) fail(ctx context.Context, connID, reason string) {
	emit(ctx, s.deps.Bus, s.deps.Net, connID, protocol.NewFail(protocol.MsgWeaponCreateFail, reason))
}

func (s *WeaponService) handleCreate(ctx context.Context, ev eventbus.Event) {
	if _, err := s.guard.Authenticate(ev.Message, ev.ConnID); err != nil {
		s.fail(ctx, ev.ConnID, reasonNotAuthenticated)
		return
	}
	user, ok := s.deps.World.Online(ev.Message.Username)
	if !ok {
		s.fail(ctx, ev.ConnID, reasonNotAuthenticated)
		return
	}
	if !user.Role.CanEditMaps() {
		s.fail(ctx, ev.ConnID, reasonNoPermission)
		return
	}

	var req protocol.WeaponCreateRequest
	if err := ev.Message.DecodeData(&req); err != nil || req.Name == "" {
		s.fail(ctx, ev.ConnID, "Malformed request")
		return
	}
	if req.Damage <= 0 || req.Range <= 0 || req.FireRate <= 0 {
		s.fail(ctx, ev.ConnID, "Damage, range and fire rate must be positive")
		return
	}

	weapon := &world.Weapon{
		Key:      uuid.NewString(),
		Name:     req.Name,
		Damage:   req.Damage,
		Range:    req.Range,
		FireRate: req.FireRate,
	}

	if err := s.deps.Repos.Weapons.Save(ctx, weapon); err != nil {
		s.logger.Error("Ошибка сохранения оружия %s: %v", weapon.Name, err)
		s.fail(ctx, ev.ConnID, reasonServerError)
		return
	}

	s.logger.Info("Оружие %s (%s) создано пользователем %s", weapon.Name, weapon.Key, user.Username)
	emit(ctx, s.deps.Bus, s.deps.Net, ev.ConnID, protocol.NewOK(protocol.MsgWeaponCreateOK, map[string]interface{}{
		"weapon_key": weapon.Key,
		"name":       weapon.Name,
	}))
}

func (s *WeaponService) handleEquip(ctx context.Context, ev eventbus.Event) {
	failEquip := func(reason string) {
		emit(ctx, s.deps.Bus, s.deps.Net, ev.ConnID, protocol.NewFail(protocol.MsgWeaponEquipFail, reason))
	}

	if _, err := s.guard.Authenticate(ev.Message, ev.ConnID); err != nil {
		failEquip(reasonNotAuthenticated)
		return
	}
	user, ok := s.deps.World.Online(ev.Message.Username)
	if !ok {
		failEquip(reasonNotAuthenticated)
		return
	}

	var req protocol.WeaponEquipRequest
	if err := ev.Message.DecodeData(&req); err != nil || req.WeaponKey == "" {
		failEquip("Malformed request")
		return
	}

	weapon, err := s.deps.Repos.Weapons.Load(ctx, req.WeaponKey)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			failEquip("Weapon not found")
			return
		}
		s.logger.Error("Ошибка загрузки оружия %s: %v", req.WeaponKey, err)
		failEquip(reasonServerError)
		return
	}

	prev := user.Weapon
	user.Weapon = weapon.Key

	if err := s.deps.Repos.Users.Save(ctx, user); err != nil {
		user.Weapon = prev
		s.logger.Error("Ошибка сохранения экипировки %s: %v", user.Username, err)
		failEquip(reasonServerError)
		return
	}

	s.logger.Debug("Пользователь %s экипировал %s (%s)", user.Username, weapon.Name, weapon.Key)
	emit(ctx, s.deps.Bus, s.deps.Net, ev.ConnID, protocol.NewOK(protocol.MsgWeaponEquipOK, map[string]interface{}{
		"weapon_key": weapon.Key,
		"name":       weapon.Name,
	}))
}
