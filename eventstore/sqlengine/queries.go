package sqlengine

import (
	"errors"

	"github.com/doug-martin/goqu/v9"
	"github.com/doug-martin/goqu/v9/exp"
	_ "github.com/doug-martin/goqu/v9/dialect/postgres" // dialect registration
	_ "github.com/doug-martin/goqu/v9/dialect/sqlite3"  // dialect registration
)

const (
	colID              = "id"
	colName            = "name"
	colAggregateID     = "aggregate_id"
	colAggregateTypeID = "aggregate_type_id"
	colNaturalKey      = "natural_key"
	colVersion         = "version"
	colEventTypeID     = "event_type_id"
	colData            = "data"
	colMetadata        = "metadata"
	aliasEvents        = "e"
	aliasSnapshots     = "s"
	aliasInstances     = "i"
	aliasAggTypes      = "a"
	aliasEventTypes    = "t"
)

type (
	sqlQueryString = string
	sqlQueryArgs   = []any
)

func qualified(alias, column string) exp.IdentifierExpression {
	return goqu.I(alias + "." + column)
}

func (se *StorageEngine) builder() goqu.DialectWrapper {
	return goqu.Dialect(string(se.dialect))
}

func toSQL(ds interface {
	ToSQL() (string, []any, error)
}) (sqlQueryString, sqlQueryArgs, error) {

	sqlQuery, args, err := ds.ToSQL()
	if err != nil {
		return "", nil, errors.Join(ErrBuildingQueryFailed, err)
	}

	return sqlQuery, args, nil
}

func (se *StorageEngine) buildSelectTypeIDQuery(table string, name string) (sqlQueryString, sqlQueryArgs, error) {
	return toSQL(
		se.builder().
			From(table).
			Select(colID).
			Where(goqu.C(colName).Eq(name)).
			Prepared(true),
	)
}

func (se *StorageEngine) buildInsertTypeStatement(table string, name string) *goqu.InsertDataset {
	return se.builder().
		Insert(table).
		Rows(goqu.Record{colName: name})
}

func (se *StorageEngine) buildInsertInstanceStatement(aggregateTypeID int64, naturalKey string) *goqu.InsertDataset {
	var key any
	if naturalKey != "" {
		key = naturalKey
	}

	return se.builder().
		Insert(se.tables.aggregateInstances).
		Rows(goqu.Record{colAggregateTypeID: aggregateTypeID, colNaturalKey: key})
}

func (se *StorageEngine) buildSelectInstanceIDQuery(aggregateType string, naturalKey string) (sqlQueryString, sqlQueryArgs, error) {
	return toSQL(
		se.builder().
			From(goqu.T(se.tables.aggregateInstances).As(aliasInstances)).
			Join(
				goqu.T(se.tables.aggregateTypes).As(aliasAggTypes),
				goqu.On(qualified(aliasAggTypes, colID).Eq(qualified(aliasInstances, colAggregateTypeID))),
			).
			Select(qualified(aliasInstances, colID)).
			Where(
				qualified(aliasAggTypes, colName).Eq(aggregateType),
				qualified(aliasInstances, colNaturalKey).Eq(naturalKey),
			).
			Prepared(true),
	)
}

func (se *StorageEngine) buildSelectEventsQuery(
	aggregateID int64,
	aggregateType string,
	afterVersion int64,
) (sqlQueryString, sqlQueryArgs, error) {

	return toSQL(
		se.builder().
			From(goqu.T(se.tables.events).As(aliasEvents)).
			Join(
				goqu.T(se.tables.aggregateTypes).As(aliasAggTypes),
				goqu.On(qualified(aliasAggTypes, colID).Eq(qualified(aliasEvents, colAggregateTypeID))),
			).
			Join(
				goqu.T(se.tables.eventTypes).As(aliasEventTypes),
				goqu.On(qualified(aliasEventTypes, colID).Eq(qualified(aliasEvents, colEventTypeID))),
			).
			Select(
				qualified(aliasEvents, colAggregateID),
				qualified(aliasAggTypes, colName),
				qualified(aliasEvents, colVersion),
				qualified(aliasEventTypes, colName),
				qualified(aliasEvents, colData),
				qualified(aliasEvents, colMetadata),
			).
			Where(
				qualified(aliasEvents, colAggregateID).Eq(aggregateID),
				qualified(aliasAggTypes, colName).Eq(aggregateType),
				qualified(aliasEvents, colVersion).Gt(afterVersion),
			).
			Order(qualified(aliasEvents, colVersion).Asc()).
			Prepared(true),
	)
}

func (se *StorageEngine) buildSelectSnapshotQuery(aggregateID int64, aggregateType string) (sqlQueryString, sqlQueryArgs, error) {
	return toSQL(
		se.builder().
			From(goqu.T(se.tables.snapshots).As(aliasSnapshots)).
			Join(
				goqu.T(se.tables.aggregateTypes).As(aliasAggTypes),
				goqu.On(qualified(aliasAggTypes, colID).Eq(qualified(aliasSnapshots, colAggregateTypeID))),
			).
			Select(
				qualified(aliasSnapshots, colAggregateID),
				qualified(aliasAggTypes, colName),
				qualified(aliasSnapshots, colVersion),
				qualified(aliasSnapshots, colData),
			).
			Where(
				qualified(aliasSnapshots, colAggregateID).Eq(aggregateID),
				qualified(aliasAggTypes, colName).Eq(aggregateType),
			).
			Order(qualified(aliasSnapshots, colVersion).Desc()).
			Limit(1).
			Prepared(true),
	)
}

func (se *StorageEngine) buildInsertRowsQuery(table string, rows []any) (sqlQueryString, sqlQueryArgs, error) {
	return toSQL(
		se.builder().
			Insert(table).
			Rows(rows...).
			Prepared(true),
	)
}
