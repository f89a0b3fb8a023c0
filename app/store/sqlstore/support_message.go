package sqlstore

import (
	"context"
	"database/sql"
	"time"

	sq "github.com/Masterminds/squirrel"

	"github.com/jhjames1/leap-grit-forge-sub004/pkg/register"
	"github.com/jhjames1/leap-grit-forge-sub004/pkg/types"
)

func init() {
	register.RegisterFunc[*Provider](RegisterKey{}, func(provider *Provider) {
		provider.stores.SupportMessageStore = NewSupportMessageStore(provider)
	})
}

type SupportMessageStore struct {
	CommonFields
}

func NewSupportMessageStore(provider SqlProviderAchieve) *SupportMessageStore {
	repo := &SupportMessageStore{}
	repo.SetProvider(provider)
	repo.SetTable(types.TABLE_SUPPORT_MESSAGE)
	repo.SetAllColumns("id", "session_id", "sender_id", "sender_role", "content", "message_type", "metadata", "idempotency_key", "created_at", "is_read")
	return repo
}

func (s *SupportMessageStore) Create(ctx context.Context, data types.SupportMessage) error {
	if data.CreatedAt == 0 {
		data.CreatedAt = time.Now().Unix()
	}
	if data.MessageType == "" {
		data.MessageType = types.MESSAGE_TYPE_TEXT
	}

	metaValue, err := data.Metadata.Value()
	if err != nil {
		return err
	}

	query := sq.Insert(s.GetTable()).
		Columns("id", "session_id", "sender_id", "sender_role", "content", "message_type", "metadata", "idempotency_key", "created_at", "is_read").
		Values(data.ID, data.SessionID, data.SenderID, data.SenderRole, data.Content, data.MessageType, metaValue, data.IdempotencyKey, data.CreatedAt, data.IsRead)

	queryString, args, err := query.ToSql()
	if err != nil {
		return ErrorSqlBuild(err)
	}

	if _, err = s.GetMaster(ctx).Exec(queryString, args...); err != nil {
		return err
	}
	return nil
}

func (s *SupportMessageStore) Get(ctx context.Context, messageID string) (*types.SupportMessage, error) {
	query := sq.Select(s.GetAllColumns()...).From(s.GetTable()).Where(sq.Eq{"id": messageID})

	queryString, args, err := query.ToSql()
	if err != nil {
		return nil, ErrorSqlBuild(err)
	}

	var res types.SupportMessage
	if err = s.GetReplica(ctx).Get(&res, queryString, args...); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &res, nil
}

func (s *SupportMessageStore) GetByIdempotencyKey(ctx context.Context, sessionID, key string) (*types.SupportMessage, error) {
	query := sq.Select(s.GetAllColumns()...).From(s.GetTable()).
		Where(sq.Eq{"session_id": sessionID, "idempotency_key": key})

	queryString, args, err := query.ToSql()
	if err != nil {
		return nil, ErrorSqlBuild(err)
	}

	var res types.SupportMessage
	if err = s.GetReplica(ctx).Get(&res, queryString, args...); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &res, nil
}

func (s *SupportMessageStore) ListBySession(ctx context.Context, sessionID string, page, pageSize uint64) ([]types.SupportMessage, error) {
	query := sq.Select(s.GetAllColumns()...).From(s.GetTable()).
		Where(sq.Eq{"session_id": sessionID}).
		OrderBy("created_at ASC", "id ASC")

	if page != types.NO_PAGING || pageSize != types.NO_PAGING {
		query = query.Limit(pageSize).Offset((page - 1) * pageSize)
	}

	queryString, args, err := query.ToSql()
	if err != nil {
		return nil, ErrorSqlBuild(err)
	}

	var list []types.SupportMessage
	if err = s.GetReplica(ctx).Select(&list, queryString, args...); err != nil {
		return nil, err
	}
	return list, nil
}

// ExistsRecentDuplicate reports whether the same sender persisted the same
// content in this session since the given unix time.
func (s *SupportMessageStore) ExistsRecentDuplicate(ctx context.Context, sessionID, senderID, content string, since int64) (bool, error) {
	dup, err := s.GetRecentDuplicate(ctx, sessionID, senderID, content, since)
	if err != nil {
		return false, err
	}
	return dup != nil, nil
}

// GetRecentDuplicate returns the newest row the same sender persisted with
// the same content in this session since the given unix time, nil when none.
func (s *SupportMessageStore) GetRecentDuplicate(ctx context.Context, sessionID, senderID, content string, since int64) (*types.SupportMessage, error) {
	query := sq.Select(s.GetAllColumns()...).From(s.GetTable()).
		Where(sq.Eq{"session_id": sessionID, "sender_id": senderID, "content": content}).
		Where(sq.GtOrEq{"created_at": since}).
		OrderBy("created_at DESC", "id DESC").
		Limit(1)

	queryString, args, err := query.ToSql()
	if err != nil {
		return nil, ErrorSqlBuild(err)
	}

	var res types.SupportMessage
	if err = s.GetReplica(ctx).Get(&res, queryString, args...); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &res, nil
}

func (s *SupportMessageStore) MarkRead(ctx context.Context, sessionID string, readerRole types.SenderRole) error {
	// reading marks the other side's messages, not your own
	query := sq.Update(s.GetTable()).
		Where(sq.Eq{"session_id": sessionID, "is_read": false}).
		Where(sq.NotEq{"sender_role": readerRole}).
		Set("is_read", true)

	queryString, args, err := query.ToSql()
	if err != nil {
		return ErrorSqlBuild(err)
	}

	if _, err = s.GetMaster(ctx).Exec(queryString, args...); err != nil {
		return err
	}
	return nil
}

func (s *SupportMessageStore) Total(ctx context.Context, sessionID string) (int64, error) {
	query := sq.Select("COUNT(*)").From(s.GetTable()).Where(sq.Eq{"session_id": sessionID})

	queryString, args, err := query.ToSql()
	if err != nil {
		return 0, ErrorSqlBuild(err)
	}

	var total int64
	if err = s.GetReplica(ctx).Get(&total, queryString, args...); err != nil {
		return 0, err
	}
	return total, nil
}
