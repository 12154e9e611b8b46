package core

import (
	"context"
	"slices"

	"pkt.systems/groundstation/internal/logx"
	"pkt.systems/groundstation/internal/persist"
	"pkt.systems/groundstation/schema"
	"pkt.systems/pslog"
)

// SetExplicit gives clientID an explicit allow-list. Unknown widget names are
// kept as given.
func (s *Service) SetExplicit(ctx context.Context, clientID schema.ClientID, widgets []schema.WidgetName) error {
	if err := schema.ValidateClientID(clientID); err != nil {
		return err
	}
	set := schema.Explicit(widgets...)
	s.mutate(ctx, false, func() {
		s.overrides[clientID] = set
	})
	logx.WithClient(ctx, clientID).Info("service permissions set", "widgets", set.String())
	return nil
}

// ResetToGlobal makes clientID inherit the global default again.
func (s *Service) ResetToGlobal(ctx context.Context, clientID schema.ClientID) error {
	if err := schema.ValidateClientID(clientID); err != nil {
		return err
	}
	s.mutate(ctx, false, func() {
		delete(s.overrides, clientID)
	})
	logx.WithClient(ctx, clientID).Info("service permissions reset")
	return nil
}

// SetGlobalDefault replaces the global default and returns it normalized.
func (s *Service) SetGlobalDefault(ctx context.Context, widgets []schema.WidgetName) []schema.WidgetName {
	next := schema.NormalizeWidgetNames(widgets)
	s.mutate(ctx, true, func() {
		s.global = next
	})
	logx.WithWidgets(pslog.Ctx(ctx), next).Info("service global default set")
	return slices.Clone(next)
}

// ToggleGlobalDefault adds widget to the global default, or removes it when
// present, and returns the new default.
func (s *Service) ToggleGlobalDefault(ctx context.Context, widget schema.WidgetName) ([]schema.WidgetName, error) {
	names := schema.NormalizeWidgetNames([]schema.WidgetName{widget})
	if len(names) == 0 {
		return nil, schema.ErrInvalidRequest
	}
	widget = names[0]
	var next []schema.WidgetName
	s.mutate(ctx, true, func() {
		current := s.global
		if idx := slices.Index(current, widget); idx >= 0 {
			next = slices.Delete(slices.Clone(current), idx, idx+1)
		} else {
			next = schema.NormalizeWidgetNames(append(slices.Clone(current), widget))
		}
		s.global = next
	})
	logx.WithWidgets(pslog.Ctx(ctx), next).Info("service global default toggled", "widget", widget)
	return slices.Clone(next), nil
}

// GlobalDefault returns the current global default, sorted.
func (s *Service) GlobalDefault() []schema.WidgetName {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.global)
}

// Permissions returns the stored permission set of clientID.
func (s *Service) Permissions(clientID schema.ClientID) schema.PermissionSet {
	s.mu.Lock()
	defer s.mu.Unlock()
	if set, ok := s.overrides[clientID]; ok {
		return set
	}
	return schema.Global()
}

// EffectiveSet resolves the widgets clientID may see.
func (s *Service) EffectiveSet(clientID schema.ClientID) []schema.WidgetName {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.effectiveLocked(clientID)
}

func (s *Service) effectiveLocked(clientID schema.ClientID) []schema.WidgetName {
	set, ok := s.overrides[clientID]
	if !ok {
		set = schema.Global()
	}
	return set.Resolve(s.global)
}

// mutate applies change under the lock, persists, and emits one
// widget_permissions event per session whose effective set changed. Admins
// are sent clients_update, and global_widgets_update when global is set.
func (s *Service) mutate(ctx context.Context, global bool, change func()) {
	s.mu.Lock()
	before := make(map[schema.SessionID][]schema.WidgetName, len(s.order))
	for _, session := range s.order {
		before[session] = s.effectiveLocked(s.sessions[session].record.ID)
	}
	change()
	var out []outgoing
	for _, session := range s.order {
		after := s.effectiveLocked(s.sessions[session].record.ID)
		if slices.Equal(before[session], after) {
			continue
		}
		out = append(out, s.envelope(session, schema.EventWidgetPermissions, after))
	}
	if global {
		env := s.encode(schema.EventGlobalWidgetsUpdate, s.global)
		for _, session := range s.adminSessionsLocked() {
			out = append(out, outgoing{session: session, envelope: env})
		}
	}
	out = append(out, s.clientsUpdateLocked()...)
	s.persistLocked(pslog.Ctx(ctx))
	s.queueLocked(out)
	s.mu.Unlock()
	s.flush()
}

func (s *Service) persistLocked(log pslog.Logger) {
	if s.store == nil {
		return
	}
	snapshot := persist.PermissionSnapshot{
		Global:  slices.Clone(s.global),
		Clients: make(map[schema.ClientID]schema.PermissionSet, len(s.overrides)),
	}
	for id, set := range s.overrides {
		snapshot.Clients[id] = set
	}
	if err := s.store.SavePermissions(snapshot); err != nil {
		log.Warn("service permissions save failed", "err", err)
		return
	}
	log.Trace("service permissions persisted", "clients", len(snapshot.Clients))
}
