package service

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/richardliu001/treasury-service/internal/approval"
	"github.com/richardliu001/treasury-service/internal/model"
	"github.com/richardliu001/treasury-service/internal/notify"
)

const (
	approvalsLink    = "/approvals"
	transactionsLink = "/transactions"
)

// deliver hands n to the notifier. Failures never reach the caller: the
// state change they describe is already committed.
func (s *TransactionService) deliver(ctx context.Context, n notify.Notification) {
	if s.notifier == nil || len(n.Recipients) == 0 {
		return
	}
	if err := s.notifier.Notify(ctx, n); err != nil {
		s.log.Warnf("notify %s to %v: %v", n.Kind, n.Recipients, err)
	}
}

func (s *TransactionService) senderName(ctx context.Context, id uint64) string {
	users, err := s.repo.GetUsers(ctx, []uint64{id})
	if err != nil || len(users) == 0 {
		return "Unknown user"
	}
	name := strings.TrimSpace(users[0].Firstname + " " + users[0].Lastname)
	if name == "" {
		return "Unknown user"
	}
	return name
}

func submittedMessage(sender string, n int) string {
	if n == 1 {
		return sender + " submitted a transaction for approval"
	}
	return fmt.Sprintf("%s submitted %d transactions for approval", sender, n)
}

// notifyTreasurers tells every treasury holder that txIDs await approval.
func (s *TransactionService) notifyTreasurers(ctx context.Context, senderID uint64, txIDs []uint64) {
	if len(txIDs) == 0 {
		return
	}
	holders, err := s.repo.RoleHolders(ctx, s.repo.DB(ctx), approval.RoleTreasury)
	if err != nil {
		s.log.Warnf("load treasurers: %v", err)
		return
	}
	sort.Slice(holders, func(i, j int) bool { return holders[i] < holders[j] })
	sender := senderID
	s.deliver(ctx, notify.Notification{
		Kind:           notify.KindSubmitted,
		Recipients:     holders,
		SenderID:       &sender,
		Message:        submittedMessage(s.senderName(ctx, senderID), len(txIDs)),
		Link:           approvalsLink,
		TransactionIDs: txIDs,
	})
}

func ownerMessage(n int) string {
	if n == 1 {
		return "Your transaction has been validated."
	}
	return fmt.Sprintf("Your transactions (%d) have been validated.", n)
}

func recorderMessage(n int) string {
	if n == 1 {
		return "The transaction you recorded has been validated."
	}
	return fmt.Sprintf("The transactions (%d) you recorded have been validated.", n)
}

type validatedGroup struct {
	owned    []uint64
	recorded []uint64
}

// notifyValidated sends one message per recipient covering the validated
// transactions it owns and those it recorded for someone else. Only active
// members are notified.
func (s *TransactionService) notifyValidated(ctx context.Context, txs []model.Transaction) {
	if len(txs) == 0 {
		return
	}
	groups := map[uint64]*validatedGroup{}
	group := func(id uint64) *validatedGroup {
		g, ok := groups[id]
		if !ok {
			g = &validatedGroup{}
			groups[id] = g
		}
		return g
	}
	for _, t := range txs {
		group(t.UsersID).owned = append(group(t.UsersID).owned, t.ID)
		if t.RecordedByID != t.UsersID {
			group(t.RecordedByID).recorded = append(group(t.RecordedByID).recorded, t.ID)
		}
	}

	ids := make([]uint64, 0, len(groups))
	for id := range groups {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	users, err := s.repo.GetUsers(ctx, ids)
	if err != nil {
		s.log.Warnf("load validation recipients: %v", err)
		return
	}
	active := make(map[uint64]bool, len(users))
	for _, u := range users {
		active[u.ID] = u.IsActive
	}

	for _, id := range ids {
		if !active[id] {
			continue
		}
		names, err := s.roles.RoleNames(ctx, id)
		if err != nil {
			s.log.Warnf("roles of %d: %v", id, err)
			continue
		}
		if !approval.NewRoleSet(names...).Has(approval.RoleMember) {
			continue
		}
		g := groups[id]
		var parts []string
		if len(g.owned) > 0 {
			parts = append(parts, ownerMessage(len(g.owned)))
		}
		if len(g.recorded) > 0 {
			parts = append(parts, recorderMessage(len(g.recorded)))
		}
		s.deliver(ctx, notify.Notification{
			Kind:           notify.KindValidated,
			Recipients:     []uint64{id},
			Message:        strings.Join(parts, " "),
			Link:           transactionsLink,
			TransactionIDs: append(append([]uint64{}, g.owned...), g.recorded...),
		})
	}
}
