package sqlstore

import (
	"context"
	"time"

	sq "github.com/Masterminds/squirrel"

	"github.com/jhjames1/leap-grit-forge-sub004/pkg/register"
	"github.com/jhjames1/leap-grit-forge-sub004/pkg/types"
)

func init() {
	register.RegisterFunc[*Provider](RegisterKey{}, func(provider *Provider) {
		provider.stores.SessionAuditStore = NewSessionAuditStore(provider)
	})
}

// SessionAuditStore is append-only; audit rows are never updated or deleted.
type SessionAuditStore struct {
	CommonFields
}

func NewSessionAuditStore(provider SqlProviderAchieve) *SessionAuditStore {
	repo := &SessionAuditStore{}
	repo.SetProvider(provider)
	repo.SetTable(types.TABLE_SESSION_AUDIT)
	repo.SetAllColumns("id", "session_id", "from_status", "to_status", "actor_id", "reason", "snapshot", "created_at")
	return repo
}

func (s *SessionAuditStore) Append(ctx context.Context, data types.SessionAudit) error {
	if data.CreatedAt == 0 {
		data.CreatedAt = time.Now().Unix()
	}

	query := sq.Insert(s.GetTable()).
		Columns("session_id", "from_status", "to_status", "actor_id", "reason", "snapshot", "created_at").
		Values(data.SessionID, data.FromStatus, data.ToStatus, data.ActorID, data.Reason, data.Snapshot, data.CreatedAt)

	queryString, args, err := query.ToSql()
	if err != nil {
		return ErrorSqlBuild(err)
	}

	if _, err = s.GetMaster(ctx).Exec(queryString, args...); err != nil {
		return err
	}
	return nil
}

func (s *SessionAuditStore) ListBySession(ctx context.Context, sessionID string) ([]types.SessionAudit, error) {
	query := sq.Select(s.GetAllColumns()...).From(s.GetTable()).
		Where(sq.Eq{"session_id": sessionID}).
		OrderBy("id ASC")

	queryString, args, err := query.ToSql()
	if err != nil {
		return nil, ErrorSqlBuild(err)
	}

	var list []types.SessionAudit
	if err = s.GetReplica(ctx).Select(&list, queryString, args...); err != nil {
		return nil, err
	}
	return list, nil
}
