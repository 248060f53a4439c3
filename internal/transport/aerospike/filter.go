package aerospike

import (
	"fmt"

	as "github.com/aerospike/aerospike-client-go/v7"

	"aeroquery/internal/qualifier"
	"aeroquery/internal/query"
)

// Filter translates a statement's index filter into a client filter. A nil
// index filter yields nil.
func Filter(f *query.IndexFilter) (*as.Filter, error) {
	if f == nil {
		return nil, nil
	}
	ctx, err := contexts(f.Context)
	if err != nil {
		return nil, err
	}
	coll := collectionType(f.Collection)
	v := f.Values[0]

	switch f.Operation {
	case qualifier.OpGeoWithin:
		return as.NewGeoWithinRegionFilter(f.Bin, v.StringValue(), ctx...), nil

	case qualifier.OpListValueContaining, qualifier.OpMapKeysContain, qualifier.OpMapValuesContain:
		return as.NewContainsFilter(f.Bin, coll, v.Any(), ctx...), nil

	case qualifier.OpEq:
		if v.Kind() != qualifier.KindInt {
			return as.NewEqualFilter(f.Bin, v.Any(), ctx...), nil
		}
	}

	begin, end, ok := f.Range()
	if !ok {
		return nil, fmt.Errorf("%w: index filter %s", ErrUnsupportedPredicate, f)
	}
	if begin > end {
		return nil, fmt.Errorf("%w: empty range in %s", ErrUnsupportedPredicate, f)
	}
	if coll != as.ICT_DEFAULT {
		return as.NewContainsRangeFilter(f.Bin, coll, begin, end, ctx...), nil
	}
	return as.NewRangeFilter(f.Bin, begin, end, ctx...), nil
}

func collectionType(c qualifier.Collection) as.IndexCollectionType {
	switch c {
	case qualifier.CollectionList:
		return as.ICT_LIST
	case qualifier.CollectionMapKeys:
		return as.ICT_MAPKEYS
	case qualifier.CollectionMapValues:
		return as.ICT_MAPVALUES
	default:
		return as.ICT_DEFAULT
	}
}
