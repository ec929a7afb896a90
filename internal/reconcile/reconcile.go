// Package reconcile detecta y repara el estado parcial que dejan las
// operaciones de varios pasos del adapter cuando fallan a mitad de camino:
//
//   - cuentas y sesiones cuyo userId no apunta a ningún usuario
//   - resúmenes en User.accounts de cuentas que ya no existen
//
// No forma parte del camino caliente: se ejecuta bajo demanda (cmd/couchauth
// reconcile) y recorre las colecciones completas.
package reconcile

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/dropDatabas3/couchauth/internal/adapter"
	"github.com/dropDatabas3/couchauth/internal/observability/logger"
	"github.com/dropDatabas3/couchauth/internal/store"
)

// maxParallelFixes limita los borrados concurrentes en modo fix.
const maxParallelFixes = 8

// Options configura una pasada.
type Options struct {
	// Fix borra huérfanos y poda resúmenes. Sin Fix sólo reporta.
	Fix    bool
	Logger *zap.Logger
}

// StaleSummary es un resumen de cuenta sin Account detrás.
type StaleSummary struct {
	UserID            string
	Provider          string
	ProviderAccountID string
}

// Report es el resultado de una pasada. Los huérfanos se listan por la clave
// de su colección (id para cuentas, sessionToken para sesiones).
type Report struct {
	OrphanAccounts []string
	OrphanSessions []string
	StaleSummaries []StaleSummary

	// Sólo con Fix.
	RemovedAccounts int
	RemovedSessions int
	PrunedUsers     int
}

// Clean indica si no se encontró nada.
func (r *Report) Clean() bool {
	return len(r.OrphanAccounts) == 0 && len(r.OrphanSessions) == 0 && len(r.StaleSummaries) == 0
}

type snapshot struct {
	users    []store.Document
	accounts []store.Document
	sessions []store.Document

	accountKey string
	sessionKey string
}

// Run ejecuta una pasada sobre las colecciones del adapter. Sin opts.Logger
// usa el logger del contexto.
func Run(ctx context.Context, a *adapter.Adapter, opts Options) (*Report, error) {
	if err := a.Ready(ctx); err != nil {
		return nil, err
	}
	base := opts.Logger
	if base == nil {
		base = logger.From(ctx, nil)
	}
	log := base.Named("reconcile").With(logger.Bool("fix", opts.Fix))
	h := a.Handle()
	names := a.CollectionNames()

	users, err := model(h, names.User)
	if err != nil {
		return nil, err
	}
	accounts, err := model(h, names.Account)
	if err != nil {
		return nil, err
	}
	sessions, err := model(h, names.Session)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	snap, err := scan(ctx, users, accounts, sessions)
	if err != nil {
		return nil, err
	}
	rep := analyze(snap)
	log.Info("scan completed",
		logger.Duration(time.Since(start)),
		logger.Int("users", len(snap.users)),
		logger.Int("orphanAccounts", len(rep.OrphanAccounts)),
		logger.Int("orphanSessions", len(rep.OrphanSessions)),
		logger.Int("staleSummaries", len(rep.StaleSummaries)))

	if !opts.Fix || rep.Clean() {
		return rep, nil
	}
	if err := fix(ctx, log, rep, users, accounts, sessions, snap); err != nil {
		return rep, err
	}
	log.Info("fix completed",
		logger.Int("removedAccounts", rep.RemovedAccounts),
		logger.Int("removedSessions", rep.RemovedSessions),
		logger.Int("prunedUsers", rep.PrunedUsers))
	return rep, nil
}

func model(h *store.Handle, name string) (*store.Model, error) {
	m, ok := h.Model(name)
	if !ok {
		return nil, fmt.Errorf("reconcile: model %q not registered", name)
	}
	return m, nil
}

// scan lee las tres colecciones en paralelo.
func scan(ctx context.Context, users, accounts, sessions *store.Model) (*snapshot, error) {
	snap := snapshot{accountKey: accounts.IDKey(), sessionKey: sessions.IDKey()}
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		snap.users, err = users.Find(ctx, nil)
		return err
	})
	g.Go(func() (err error) {
		snap.accounts, err = accounts.Find(ctx, nil)
		return err
	})
	g.Go(func() (err error) {
		snap.sessions, err = sessions.Find(ctx, nil)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("reconcile: scan: %w", err)
	}
	return &snap, nil
}

type accountKey struct{ userID, provider, providerAccountID string }

func analyze(snap *snapshot) *Report {
	rep := &Report{}
	emails := make(map[string]struct{}, len(snap.users))
	for _, u := range snap.users {
		emails[u.String("email")] = struct{}{}
	}

	live := make(map[accountKey]struct{}, len(snap.accounts))
	for _, acc := range snap.accounts {
		userID := acc.String("userId")
		if _, ok := emails[userID]; !ok {
			rep.OrphanAccounts = append(rep.OrphanAccounts, acc.String(snap.accountKey))
			continue
		}
		live[accountKey{userID, acc.String("provider"), acc.String("providerAccountId")}] = struct{}{}
	}

	for _, s := range snap.sessions {
		if _, ok := emails[s.String("userId")]; !ok {
			rep.OrphanSessions = append(rep.OrphanSessions, s.String(snap.sessionKey))
		}
	}

	for _, u := range snap.users {
		email := u.String("email")
		summaries, _ := u["accounts"].([]any)
		for _, raw := range summaries {
			sum, ok := raw.(map[string]any)
			if !ok {
				continue
			}
			provider, _ := sum["provider"].(string)
			pid, _ := sum["providerAccountId"].(string)
			if _, ok := live[accountKey{email, provider, pid}]; !ok {
				rep.StaleSummaries = append(rep.StaleSummaries, StaleSummary{
					UserID: email, Provider: provider, ProviderAccountID: pid,
				})
			}
		}
	}

	sort.Strings(rep.OrphanAccounts)
	sort.Strings(rep.OrphanSessions)
	sort.Slice(rep.StaleSummaries, func(i, j int) bool {
		a, b := rep.StaleSummaries[i], rep.StaleSummaries[j]
		if a.UserID != b.UserID {
			return a.UserID < b.UserID
		}
		if a.Provider != b.Provider {
			return a.Provider < b.Provider
		}
		return a.ProviderAccountID < b.ProviderAccountID
	})
	return rep
}

func fix(ctx context.Context, log *zap.Logger, rep *Report, users, accounts, sessions *store.Model, snap *snapshot) error {
	removedAccounts, err := removeAll(ctx, log, accounts, rep.OrphanAccounts)
	rep.RemovedAccounts = removedAccounts
	if err != nil {
		return err
	}
	removedSessions, err := removeAll(ctx, log, sessions, rep.OrphanSessions)
	rep.RemovedSessions = removedSessions
	if err != nil {
		return err
	}

	stale := make(map[string]map[accountKey]struct{})
	for _, s := range rep.StaleSummaries {
		if stale[s.UserID] == nil {
			stale[s.UserID] = make(map[accountKey]struct{})
		}
		stale[s.UserID][accountKey{s.UserID, s.Provider, s.ProviderAccountID}] = struct{}{}
	}
	for _, u := range snap.users {
		email := u.String("email")
		drop, ok := stale[email]
		if !ok {
			continue
		}
		summaries, _ := u["accounts"].([]any)
		kept := make([]any, 0, len(summaries))
		for _, raw := range summaries {
			sum, _ := raw.(map[string]any)
			provider, _ := sum["provider"].(string)
			pid, _ := sum["providerAccountId"].(string)
			if _, gone := drop[accountKey{email, provider, pid}]; gone {
				continue
			}
			kept = append(kept, raw)
		}
		doc := u.Clone()
		doc["accounts"] = kept
		if _, err := users.Save(ctx, doc); err != nil {
			return fmt.Errorf("reconcile: prune %s: %w", email, err)
		}
		rep.PrunedUsers++
	}
	return nil
}

// removeAll borra por clave con concurrencia acotada. Los que ya no existen
// no cuentan ni fallan.
func removeAll(ctx context.Context, log *zap.Logger, m *store.Model, ids []string) (int, error) {
	removed := make([]bool, len(ids))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(maxParallelFixes)
	for i, id := range ids {
		g.Go(func() error {
			err := m.RemoveByID(ctx, id)
			if store.IsNotFound(err) {
				return nil
			}
			if err != nil {
				return fmt.Errorf("reconcile: remove %s/%s: %w", m.Name(), id, err)
			}
			removed[i] = true
			log.Debug("orphan removed", logger.Collection(m.Name()), logger.DocID(id))
			return nil
		})
	}
	err := g.Wait()
	n := 0
	for _, ok := range removed {
		if ok {
			n++
		}
	}
	return n, err
}
