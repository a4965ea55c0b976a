package services

import (
	"context"
	"sort"

	"github.com/gridops/fieldsync/internal/db"
	apperrors "github.com/gridops/fieldsync/internal/errors"
	"github.com/gridops/fieldsync/internal/logging"
	"github.com/gridops/fieldsync/internal/models"
	"github.com/gridops/fieldsync/internal/remote"
	"github.com/gridops/fieldsync/internal/sync/dualpath"
)

// TicketBackend is what the ticket service needs from the remote backend.
type TicketBackend interface {
	remote.Updater
	remote.Selector
}

// TicketFilters narrows a cached ticket lookup. Empty fields match everything.
type TicketFilters struct {
	AssignedTo string
	Status     string
}

// TicketChanges are field updates keyed by json name.
type TicketChanges map[string]interface{}

// TicketService keeps the offline ticket cache and writes ticket updates.
type TicketService struct {
	base
	backend TicketBackend
}

// NewTicketService creates a TicketService.
func NewTicketService(deps Deps, backend TicketBackend) *TicketService {
	return &TicketService{base: newBase(deps), backend: backend}
}

func (s *TicketService) normalize(t models.Ticket) models.Ticket {
	t.Synced = true
	t.SyncStatus = models.SyncSynced
	if t.UpdatedAt.IsZero() {
		t.UpdatedAt = s.now()
	}
	return t
}

// CacheTickets stores tickets fetched from the backend as synced.
func (s *TicketService) CacheTickets(ctx context.Context, tickets []models.Ticket) error {
	if len(tickets) == 0 {
		return nil
	}
	normalized := make([]models.Ticket, len(tickets))
	for i, t := range tickets {
		normalized[i] = s.normalize(t)
	}
	return s.store.Transaction(ctx, []db.Table{db.TableTickets}, func(tx db.Session) error {
		return db.BulkPutAll(ctx, tx, db.TableTickets, normalized)
	})
}

// CacheTicket stores one ticket as synced.
func (s *TicketService) CacheTicket(ctx context.Context, ticket models.Ticket) (models.Ticket, error) {
	ticket = s.normalize(ticket)
	_, err := s.store.Put(ctx, db.TableTickets, ticket)
	return ticket, err
}

// ReplaceTicketCache swaps the whole cache for tickets in one transaction.
// Tickets with local changes that have not reached the backend are kept.
func (s *TicketService) ReplaceTicketCache(ctx context.Context, tickets []models.Ticket) error {
	return s.store.Transaction(ctx, []db.Table{db.TableTickets}, func(tx db.Session) error {
		cached, err := db.AllAs[models.Ticket](ctx, tx, db.TableTickets)
		if err != nil {
			return err
		}
		if err := tx.Clear(ctx, db.TableTickets); err != nil {
			return err
		}

		fresh := make([]models.Ticket, 0, len(tickets))
		for _, t := range tickets {
			fresh = append(fresh, s.normalize(t))
		}
		if err := db.BulkPutAll(ctx, tx, db.TableTickets, fresh); err != nil {
			return err
		}

		var unsynced []models.Ticket
		for _, t := range cached {
			if t.SyncStatus != models.SyncSynced {
				unsynced = append(unsynced, t)
			}
		}
		return db.BulkPutAll(ctx, tx, db.TableTickets, unsynced)
	})
}

// cacheFresh caches tickets except those whose cached copy has unsynced changes.
func (s *TicketService) cacheFresh(ctx context.Context, tickets []models.Ticket) error {
	return s.store.Transaction(ctx, []db.Table{db.TableTickets}, func(tx db.Session) error {
		for _, t := range tickets {
			cached, ok, err := db.Find[models.Ticket](ctx, tx, db.TableTickets, t.ID)
			if err != nil {
				return err
			}
			if ok && cached.SyncStatus != models.SyncSynced {
				continue
			}
			if _, err := tx.Put(ctx, db.TableTickets, s.normalize(t)); err != nil {
				return err
			}
		}
		return nil
	})
}

// GetCachedTicket returns a cached ticket.
func (s *TicketService) GetCachedTicket(ctx context.Context, id string) (models.Ticket, bool, error) {
	return db.Find[models.Ticket](ctx, s.store, db.TableTickets, id)
}

// GetCachedTickets returns cached tickets matching filters, most recently updated first.
func (s *TicketService) GetCachedTickets(ctx context.Context, filters TicketFilters) ([]models.Ticket, error) {
	var (
		tickets []models.Ticket
		err     error
	)
	switch {
	case filters.AssignedTo != "" && filters.Status != "":
		tickets, err = db.QueryAs[models.Ticket](ctx, s.store, db.TableTickets, "assigned_to+status", filters.AssignedTo, filters.Status)
	case filters.AssignedTo != "":
		tickets, err = db.QueryAs[models.Ticket](ctx, s.store, db.TableTickets, "assigned_to", filters.AssignedTo)
	case filters.Status != "":
		tickets, err = db.QueryAs[models.Ticket](ctx, s.store, db.TableTickets, "status", filters.Status)
	default:
		tickets, err = db.AllAs[models.Ticket](ctx, s.store, db.TableTickets)
	}
	if err != nil {
		return nil, err
	}
	sortTickets(tickets)
	return tickets, nil
}

func sortTickets(tickets []models.Ticket) {
	sort.SliceStable(tickets, func(i, j int) bool {
		if tickets[i].UpdatedAt.Equal(tickets[j].UpdatedAt) {
			return tickets[i].ID < tickets[j].ID
		}
		return tickets[i].UpdatedAt.After(tickets[j].UpdatedAt)
	})
}

// QueueTicketUpdate applies changes to the cached ticket, marks it pending and queues an
// UPDATE carrying only the changes.
func (s *TicketService) QueueTicketUpdate(ctx context.Context, id string, changes TicketChanges) (models.Ticket, error) {
	return s.queueUpdate(ctx, id, changes, "")
}

func (s *TicketService) queueUpdate(ctx context.Context, id string, changes TicketChanges, lastErr string) (models.Ticket, error) {
	var ticket models.Ticket
	err := s.store.Transaction(ctx, []db.Table{db.TableTickets, db.TableSyncQueue}, func(tx db.Session) error {
		fields := make(map[string]interface{}, len(changes)+4)
		for k, v := range changes {
			if k == "id" {
				continue
			}
			fields[k] = v
		}
		state := models.PendingState(lastErr, s.now())
		fields["synced"] = state.Synced
		fields["sync_status"] = state.SyncStatus
		fields["updated_at"] = state.UpdatedAt
		fields["last_error"] = nil
		if lastErr != "" {
			fields["last_error"] = lastErr
		}
		if err := tx.Patch(ctx, db.TableTickets, id, fields); err != nil {
			return err
		}
		if _, err := s.queue.With(tx).Enqueue(ctx, models.OperationUpdate, models.EntityTicket, id, changes); err != nil {
			return err
		}
		var err error
		ticket, err = db.Get[models.Ticket](ctx, tx, db.TableTickets, id)
		return err
	})
	return ticket, err
}

// UpdateTicket writes changes to the backend, or queues them when offline, when the remote
// call fails, or when the cached ticket already has unsynced changes.
func (s *TicketService) UpdateTicket(ctx context.Context, id string, changes TicketChanges) (dualpath.Result[models.Ticket], error) {
	cached, found, err := s.GetCachedTicket(ctx, id)
	if err != nil {
		return dualpath.Result[models.Ticket]{}, err
	}

	return dualpath.Execute(ctx, s.exec, dualpath.Operation[models.Ticket]{
		Name: "Ticket update",
		Validate: func() error {
			if id == "" {
				return apperrors.Validation("Ticket is required.")
			}
			if len(changes) == 0 {
				return apperrors.Validation("No ticket changes to save.")
			}
			if !found {
				return apperrors.Validation("Ticket is not available offline.")
			}
			return nil
		},
		LocalOnly: cached.SyncStatus != models.SyncSynced,
		Remote: func(ctx context.Context) (models.Ticket, error) {
			return remote.UpdateAs[models.Ticket](ctx, s.backend, TicketsCollection, id, changes)
		},
		Confirm: func(ctx context.Context, ticket models.Ticket) (models.Ticket, error) {
			return s.CacheTicket(ctx, ticket)
		},
		Fallback: func(ctx context.Context, remoteErr error) (models.Ticket, error) {
			return s.queueUpdate(ctx, id, changes, dualpath.ErrorMessage(remoteErr))
		},
	})
}

// RefreshTickets reloads tickets from the backend into the cache. Offline, or when the
// backend fails, the cached tickets are returned instead.
func (s *TicketService) RefreshTickets(ctx context.Context, filters TicketFilters) ([]models.Ticket, error) {
	if !s.exec.Online() {
		return s.GetCachedTickets(ctx, filters)
	}

	var pairs []interface{}
	if filters.AssignedTo != "" {
		pairs = append(pairs, "assigned_to", filters.AssignedTo)
	}
	if filters.Status != "" {
		pairs = append(pairs, "status", filters.Status)
	}
	tickets, err := remote.SelectAs[models.Ticket](ctx, s.backend, TicketsCollection, remote.Where(pairs...).Order("updated_at", true))
	if err != nil {
		logging.Warn("[Tickets] Refresh failed, using cache", map[string]interface{}{
			"error": err.Error(),
		})
		return s.GetCachedTickets(ctx, filters)
	}

	if len(pairs) == 0 {
		err = s.ReplaceTicketCache(ctx, tickets)
	} else {
		err = s.cacheFresh(ctx, tickets)
	}
	if err != nil {
		return nil, err
	}
	return s.GetCachedTickets(ctx, filters)
}
