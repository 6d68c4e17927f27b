package translator

import (
	"bytes"
	"context"
	"log/slog"
	"net/url"
	"sort"
	"time"

	"github.com/maxcollombin/mapserver-proxy/internal/core/apperr"
	"github.com/maxcollombin/mapserver-proxy/internal/core/cache"
	"github.com/maxcollombin/mapserver-proxy/internal/core/cache/keys"
	"github.com/maxcollombin/mapserver-proxy/internal/core/esri"
	"github.com/maxcollombin/mapserver-proxy/internal/core/model"
	"github.com/maxcollombin/mapserver-proxy/internal/core/ogc"
)

// SchemaClient implements catalog.SchemaFetcher against the backend's
// queryables document, probing one item when no queryables are served. It is
// separate from Translator so the catalog and translator can be wired
// without a dependency cycle.
type SchemaClient struct {
	fetcher *fetcher
}

func NewSchemaClient(log *slog.Logger, client HTTPDoer, baseURL string, timeout time.Duration, c cache.Interface, cacheTTL time.Duration) (*SchemaClient, error) {
	f, err := newFetcher(log, client, baseURL, timeout, c, cacheTTL)
	if err != nil {
		return nil, err
	}
	return &SchemaClient{fetcher: f}, nil
}

func (s *SchemaClient) FetchSchema(ctx context.Context, collection string) (model.Schema, error) {
	sch, err := s.fromQueryables(ctx, collection)
	if err == nil && len(sch.Fields) > 0 {
		if sch.GeometryType == "" {
			// queryables had no geometry column; one item tells us
			if probed, perr := s.fromItemProbe(ctx, collection); perr == nil {
				sch.GeometryType = probed.GeometryType
			}
		}
		return sch, nil
	}

	probed, perr := s.fromItemProbe(ctx, collection)
	if perr != nil {
		if err != nil {
			return model.Schema{}, err
		}
		return model.Schema{}, perr
	}
	return probed, nil
}

func (s *SchemaClient) fromQueryables(ctx context.Context, collection string) (model.Schema, error) {
	u, err := url.Parse(ogc.QueryablesEndpoint(s.fetcher.base, collection))
	if err != nil {
		return model.Schema{}, apperr.Wrap(apperr.Internal, "build queryables url", err)
	}
	q := url.Values{}
	q.Set("f", "json")
	u.RawQuery = q.Encode()

	body, err := s.fetcher.getJSON(ctx, u, keys.Key(collection, "queryables", u.RawQuery))
	if err != nil {
		return model.Schema{}, err
	}
	doc, err := ogc.DecodeQueryables(bytes.NewReader(body))
	if err != nil {
		return model.Schema{}, apperr.Wrap(apperr.Internal, "unexpected queryables shape", err)
	}

	var sch model.Schema
	for name, p := range doc.Properties {
		if ogc.IsGeometryProp(name, p) {
			if gt, ok := ogc.GeometryTypeFromFormat(p.Format); ok {
				sch.GeometryType = gt
			}
			continue
		}
		sch.Fields = append(sch.Fields, model.Field{
			Name:  name,
			Type:  esri.FieldTypeFromSchema(p.Type, p.Format),
			Alias: p.Title,
		})
	}
	sort.Slice(sch.Fields, func(i, j int) bool { return sch.Fields[i].Name < sch.Fields[j].Name })
	return sch, nil
}

// fromItemProbe derives the schema from a single feature when the backend
// serves no usable queryables document.
func (s *SchemaClient) fromItemProbe(ctx context.Context, collection string) (model.Schema, error) {
	u, err := url.Parse(ogc.ItemsEndpoint(s.fetcher.base, collection))
	if err != nil {
		return model.Schema{}, apperr.Wrap(apperr.Internal, "build items url", err)
	}
	u.RawQuery = ogc.BuildItemsParams(ogc.ItemsQuery{Limit: 1}).Encode()

	body, err := s.fetcher.getJSON(ctx, u, keys.Key(collection, "probe", u.RawQuery))
	if err != nil {
		return model.Schema{}, err
	}
	fc, err := ogc.DecodeFeatureCollection(bytes.NewReader(body))
	if err != nil {
		return model.Schema{}, apperr.Wrap(apperr.Internal, "unexpected items response shape", err)
	}
	if len(fc.Features) == 0 {
		return model.Schema{}, apperr.Errorf(apperr.Upstream,
			"collection %q is empty, cannot derive schema", collection)
	}

	feat := fc.Features[0]
	var sch model.Schema
	if feat.Geometry != nil {
		sch.GeometryType = esri.GeometryTypeFromGeoJSON(feat.Geometry.Type)
	}
	for name, v := range feat.Properties {
		sch.Fields = append(sch.Fields, model.Field{
			Name: name,
			Type: esri.FieldTypeFromValue(v),
		})
	}
	sort.Slice(sch.Fields, func(i, j int) bool { return sch.Fields[i].Name < sch.Fields[j].Name })
	return sch, nil
}
