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
		provider.stores.SpecialistStatusStore = NewSpecialistStatusStore(provider)
	})
}

type SpecialistStatusStore struct {
	CommonFields
}

func NewSpecialistStatusStore(provider SqlProviderAchieve) *SpecialistStatusStore {
	repo := &SpecialistStatusStore{}
	repo.SetProvider(provider)
	repo.SetTable(types.TABLE_SPECIALIST_STATUS)
	repo.SetAllColumns("specialist_id", "status", "status_message", "last_seen", "metadata")
	return repo
}

// Upsert writes the one presence row per specialist. The presence resolver
// is the only writer.
func (s *SpecialistStatusStore) Upsert(ctx context.Context, data types.SpecialistStatus) error {
	if data.LastSeen == 0 {
		data.LastSeen = time.Now().Unix()
	}

	metaValue, err := data.Metadata.Value()
	if err != nil {
		return err
	}

	query := sq.Insert(s.GetTable()).
		Columns("specialist_id", "status", "status_message", "last_seen", "metadata").
		Values(data.SpecialistID, data.Status, data.StatusMessage, data.LastSeen, metaValue).
		Suffix("ON CONFLICT (specialist_id) DO UPDATE SET status = EXCLUDED.status, status_message = EXCLUDED.status_message, last_seen = EXCLUDED.last_seen, metadata = EXCLUDED.metadata")

	queryString, args, err := query.ToSql()
	if err != nil {
		return ErrorSqlBuild(err)
	}

	if _, err = s.GetMaster(ctx).Exec(queryString, args...); err != nil {
		return err
	}
	return nil
}

func (s *SpecialistStatusStore) Get(ctx context.Context, specialistID string) (*types.SpecialistStatus, error) {
	query := sq.Select(s.GetAllColumns()...).From(s.GetTable()).Where(sq.Eq{"specialist_id": specialistID})

	queryString, args, err := query.ToSql()
	if err != nil {
		return nil, ErrorSqlBuild(err)
	}

	var res types.SpecialistStatus
	if err = s.GetReplica(ctx).Get(&res, queryString, args...); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &res, nil
}

func (s *SpecialistStatusStore) List(ctx context.Context, page, pageSize uint64) ([]types.SpecialistStatus, error) {
	query := sq.Select(s.GetAllColumns()...).From(s.GetTable()).OrderBy("specialist_id ASC")

	if page != types.NO_PAGING || pageSize != types.NO_PAGING {
		query = query.Limit(pageSize).Offset((page - 1) * pageSize)
	}

	queryString, args, err := query.ToSql()
	if err != nil {
		return nil, ErrorSqlBuild(err)
	}

	var list []types.SpecialistStatus
	if err = s.GetReplica(ctx).Select(&list, queryString, args...); err != nil {
		return nil, err
	}
	return list, nil
}
