package main

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rlarcher1021/seazwf-sub000/pkg/httpx"
	"github.com/rlarcher1021/seazwf-sub000/pkg/models"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
)

var errBadBudgetID = errors.New("budget_id must be a comma separated list of positive integers")

const defaultVisibilityRecheck = 30 * time.Second

type readyMessage struct {
	Type    string  `json:"type"`
	Budgets []int64 `json:"budgets"`
}

// streamEvents pushes allocation change events for the budgets the actor can
// see. ?budget_id=1,2 narrows the feed further. Visibility is re-resolved on
// every VisibilityRecheck tick and the feed closes once a subscribed budget
// drops out, e.g. after the budget is reassigned to another owner.
func (s *Server) streamEvents(w http.ResponseWriter, r *http.Request) {
	if s.Events == nil {
		httpx.Error(w, http.StatusServiceUnavailable, "stream unavailable")
		return
	}
	actor := actorFrom(r)
	visible, err := s.Budgets.ResolveVisibleBudgets(r.Context(), actor, models.BudgetFilter{})
	if err != nil {
		s.internalServerError(w, r, "resolve budgets", err)
		return
	}
	budgetIDs, err := streamBudgets(visible, r.URL.Query().Get("budget_id"))
	if err != nil {
		httpx.Error(w, http.StatusBadRequest, err.Error())
		return
	}
	if len(budgetIDs) == 0 {
		httpx.Error(w, http.StatusForbidden, "no visible budgets")
		return
	}

	opts := &websocket.AcceptOptions{}
	if len(s.WSOriginPatterns) > 0 {
		opts.OriginPatterns = s.WSOriginPatterns
	}
	conn, err := websocket.Accept(w, r, opts)
	if err != nil {
		return
	}
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	sub := s.Events.Subscribe(64, budgetIDs...)
	defer s.Events.Unsubscribe(sub)
	if s.Metrics != nil {
		s.Metrics.SetGauge("stream_subscribers", float64(s.Events.Subscribers()))
		defer func() { s.Metrics.SetGauge("stream_subscribers", float64(s.Events.Subscribers()-1)) }()
	}

	_ = wsjson.Write(ctx, conn, readyMessage{Type: "ready", Budgets: budgetIDs})
	readErr := make(chan error, 1)
	go func() {
		for {
			if _, _, err := conn.Read(ctx); err != nil {
				readErr <- err
				return
			}
		}
	}()
	recheck := time.NewTicker(s.visibilityRecheck())
	defer recheck.Stop()
	for {
		select {
		case <-recheck.C:
			if !s.stillVisible(ctx, actor.UserID, budgetIDs) {
				_ = conn.Close(websocket.StatusPolicyViolation, "visibility changed")
				return
			}
		case <-ctx.Done():
			_ = conn.Close(websocket.StatusNormalClosure, "closed")
			return
		case <-readErr:
			_ = conn.Close(websocket.StatusNormalClosure, "closed")
			return
		case evt, ok := <-sub:
			if !ok {
				_ = conn.Close(websocket.StatusNormalClosure, "closed")
				return
			}
			writeCtx, cancelWrite := context.WithTimeout(ctx, 5*time.Second)
			err := wsjson.Write(writeCtx, conn, evt)
			cancelWrite()
			if err != nil {
				_ = conn.Close(websocket.StatusNormalClosure, "write_failed")
				return
			}
		}
	}
}

func (s *Server) visibilityRecheck() time.Duration {
	if s.VisibilityRecheck > 0 {
		return s.VisibilityRecheck
	}
	return defaultVisibilityRecheck
}

// stillVisible reloads the actor and reports whether every subscribed budget
// is still visible. Lookup failures count as not visible.
func (s *Server) stillVisible(ctx context.Context, userID int64, budgetIDs []int64) bool {
	actor, err := s.Actors.LoadActor(ctx, userID)
	if err != nil {
		if ctx.Err() == nil {
			s.logger().Warn("stream actor reload failed", "user_id", userID, "error", err)
		}
		return false
	}
	visible, err := s.Budgets.ResolveVisibleBudgets(ctx, actor, models.BudgetFilter{})
	if err != nil {
		if ctx.Err() == nil {
			s.logger().Warn("stream visibility recheck failed", "user_id", userID, "error", err)
		}
		return false
	}
	ids := make(map[int64]struct{}, len(visible))
	for _, b := range visible {
		ids[b.ID] = struct{}{}
	}
	for _, id := range budgetIDs {
		if _, ok := ids[id]; !ok {
			return false
		}
	}
	return true
}

// streamBudgets intersects the requested ids with the visible budgets.
func streamBudgets(visible []models.BudgetSummary, raw string) ([]int64, error) {
	allowed := make(map[int64]struct{}, len(visible))
	all := make([]int64, 0, len(visible))
	for _, b := range visible {
		allowed[b.ID] = struct{}{}
		all = append(all, b.ID)
	}
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return all, nil
	}
	var out []int64
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil || id <= 0 {
			return nil, errBadBudgetID
		}
		if _, ok := allowed[id]; ok {
			out = append(out, id)
		}
	}
	return out, nil
}

