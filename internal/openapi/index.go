// Package openapi loads OpenAPI documents and turns their operations into
// model.OperationDescriptor tables, one document per service version.
package openapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/samber/lo"

	"github.com/pitabwire/restkit/codec"
	"github.com/pitabwire/restkit/internal/config"
	"github.com/pitabwire/restkit/internal/invoker"
	"github.com/pitabwire/restkit/internal/observability"
	"github.com/pitabwire/restkit/model"
)

// BodyParam is the name of the body binding of operations with a request
// body.
const BodyParam = "body"

// PageableExtension is the operation extension describing list paging.
const PageableExtension = "x-ms-pageable"

// SpecSource describes an OpenAPI document to load. Documents of the same
// service must be listed oldest version first.
type SpecSource struct {
	ServiceID string
	BaseURL   string
	SpecPath  string
}

// SourcesFromConfig converts configured spec sources, resolving relative
// spec files against the configured directory.
func SourcesFromConfig(cfg config.SpecsConfig) []SpecSource {
	sources := make([]SpecSource, len(cfg.Sources))
	for i, s := range cfg.Sources {
		path := s.SpecFile
		if cfg.Directory != "" && !filepath.IsAbs(path) {
			path = filepath.Join(cfg.Directory, path)
		}
		sources[i] = SpecSource{ServiceID: s.ServiceID, SpecPath: path}
	}
	return sources
}

// IndexedOperation is one version's variant of an operation.
type IndexedOperation struct {
	ServiceID   string
	Version     model.ServiceVersion
	Descriptor  *model.OperationDescriptor
	RequestBody *openapi3.RequestBody
	BaseURL     string
}

type service struct {
	baseURL  string
	versions []model.ServiceVersion
	ops      map[string][]IndexedOperation
}

// Index is an in-memory index of operations keyed by service and
// operation ID. Load it fully before sharing it between goroutines.
type Index struct {
	services map[string]*service
	metrics  *observability.Metrics
}

// Option configures an Index.
type Option func(*Index)

// WithMetrics reports the number of indexed operations per service.
func WithMetrics(m *observability.Metrics) Option {
	return func(idx *Index) { idx.metrics = m }
}

// NewIndex creates an empty index.
func NewIndex(opts ...Option) *Index {
	idx := &Index{services: make(map[string]*service)}
	for _, opt := range opts {
		opt(idx)
	}
	return idx
}

// Load parses and indexes the given documents.
func (idx *Index) Load(ctx context.Context, specs []SpecSource) error {
	loader := openapi3.NewLoader()
	loader.IsExternalRefsAllowed = false

	for _, src := range specs {
		doc, err := loader.LoadFromFile(src.SpecPath)
		if err != nil {
			return fmt.Errorf("openapi: loading %s (%s): %w", src.ServiceID, src.SpecPath, err)
		}
		if err := idx.add(ctx, src, doc); err != nil {
			return err
		}
	}
	return nil
}

// LoadData parses and indexes one document held in memory.
func (idx *Index) LoadData(ctx context.Context, src SpecSource, data []byte) error {
	loader := openapi3.NewLoader()
	loader.IsExternalRefsAllowed = false

	doc, err := loader.LoadFromData(data)
	if err != nil {
		return fmt.Errorf("openapi: loading %s: %w", src.ServiceID, err)
	}
	return idx.add(ctx, src, doc)
}

func (idx *Index) add(ctx context.Context, src SpecSource, doc *openapi3.T) error {
	if err := doc.Validate(ctx); err != nil {
		return fmt.Errorf("openapi: validating %s: %w", src.ServiceID, err)
	}
	if doc.Info == nil || doc.Info.Version == "" {
		return fmt.Errorf("openapi: %s: info.version is required", src.ServiceID)
	}
	version := model.ServiceVersion(doc.Info.Version)

	svc, ok := idx.services[src.ServiceID]
	if !ok {
		svc = &service{ops: make(map[string][]IndexedOperation)}
		idx.services[src.ServiceID] = svc
	}
	if lo.Contains(svc.versions, version) {
		return fmt.Errorf("openapi: %s: version %s loaded twice", src.ServiceID, version)
	}

	baseURL := src.BaseURL
	if baseURL == "" && len(doc.Servers) > 0 {
		baseURL = doc.Servers[0].URL
	}
	if baseURL != "" {
		svc.baseURL = baseURL
	}

	for path, item := range doc.Paths.Map() {
		for method, op := range item.Operations() {
			if op.OperationID == "" {
				continue
			}
			desc, err := describe(path, method, item, op)
			if err != nil {
				return fmt.Errorf("openapi: %s %s: %w", src.ServiceID, op.OperationID, err)
			}

			var reqBody *openapi3.RequestBody
			if op.RequestBody != nil {
				reqBody = op.RequestBody.Value
			}
			svc.ops[op.OperationID] = append(svc.ops[op.OperationID], IndexedOperation{
				ServiceID:   src.ServiceID,
				Version:     version,
				Descriptor:  desc,
				RequestBody: reqBody,
				BaseURL:     baseURL,
			})
		}
	}
	svc.versions = append(svc.versions, version)

	idx.metrics.SetOperationsIndexed(src.ServiceID, float64(len(svc.ops)))
	return nil
}

// describe builds the descriptor of one OpenAPI operation.
func describe(path, method string, item *openapi3.PathItem, op *openapi3.Operation) (*model.OperationDescriptor, error) {
	desc := &model.OperationDescriptor{
		ID:           op.OperationID,
		Method:       method,
		PathTemplate: path,
		Params: []model.ParamBinding{
			{Name: model.EndpointParam, In: model.InHost, Required: true},
		},
	}

	// Operation-level parameters override path-level ones of the same name.
	var params []*openapi3.Parameter
	for _, refs := range []openapi3.Parameters{item.Parameters, op.Parameters} {
		for _, ref := range refs {
			if ref == nil || ref.Value == nil {
				continue
			}
			p := ref.Value
			params = lo.Reject(params, func(q *openapi3.Parameter, _ int) bool {
				return q.Name == p.Name && q.In == p.In
			})
			params = append(params, p)
		}
	}
	for _, p := range params {
		var in model.Location
		switch p.In {
		case openapi3.ParameterInPath:
			in = model.InPath
		case openapi3.ParameterInQuery:
			in = model.InQuery
		case openapi3.ParameterInHeader:
			in = model.InHeader
		default:
			return nil, fmt.Errorf("parameter %q: location %q is not supported", p.Name, p.In)
		}
		desc.Params = append(desc.Params, model.ParamBinding{
			Name:     p.Name,
			In:       in,
			Required: p.Required || in == model.InPath,
		})
	}

	if op.RequestBody != nil && op.RequestBody.Value != nil {
		rb := op.RequestBody.Value
		desc.Params = append(desc.Params, model.ParamBinding{Name: BodyParam, In: model.InBody, Required: rb.Required})
		desc.ContentType = preferredMediaType(rb.Content)
	}

	if err := describeResponses(desc, op.Responses); err != nil {
		return nil, err
	}

	paging, err := pagingOf(op)
	if err != nil {
		return nil, err
	}
	desc.Paging = paging

	if err := desc.Validate(); err != nil {
		return nil, err
	}
	return desc, nil
}

// describeResponses fills success codes, the error map and the accepted
// media type. Explicit error codes come first, then class ranges, then the
// default response.
func describeResponses(desc *model.OperationDescriptor, responses *openapi3.Responses) error {
	if responses == nil {
		return errors.New("no responses declared")
	}
	desc.Errors = append(desc.Errors, model.DefaultErrorMap...)
	var ranges []model.ErrorMapping
	var fallback bool
	var content openapi3.Content

	keys := lo.Keys(responses.Map())
	sort.Strings(keys)
	for _, key := range keys {
		ref := responses.Map()[key]
		switch {
		case key == "default":
			fallback = true
		case len(key) == 3 && strings.HasSuffix(strings.ToUpper(key), "XX"):
			class := int(key[0]-'0') * 100
			if class >= http.StatusBadRequest {
				ranges = append(ranges, model.ErrorMapping{
					Status: model.StatusRange{From: class, To: class + 99},
					Kind:   model.KindHTTP,
				})
			}
		default:
			code, err := strconv.Atoi(key)
			if err != nil {
				return fmt.Errorf("response %q: invalid status code", key)
			}
			if code < http.StatusBadRequest {
				desc.SuccessCodes = append(desc.SuccessCodes, code)
				if content == nil && ref.Value != nil && len(ref.Value.Content) > 0 {
					content = ref.Value.Content
				}
				continue
			}
			if _, mapped := desc.ErrorKindFor(code); !mapped {
				desc.Errors = append(desc.Errors, model.ErrorMapping{Status: model.Status(code), Kind: model.KindHTTP})
			}
		}
	}
	desc.Errors = append(desc.Errors, ranges...)
	if fallback {
		desc.Errors = append(desc.Errors, model.ErrorMapping{
			Status: model.StatusRange{From: http.StatusBadRequest, To: 599},
			Kind:   model.KindHTTP,
		})
	}

	if len(desc.SuccessCodes) == 0 {
		return errors.New("no success response declared")
	}
	if content != nil {
		desc.Accept = preferredMediaType(content)
		desc.Raw = !isJSON(desc.Accept)
	}
	return nil
}

func preferredMediaType(content openapi3.Content) string {
	types := lo.Keys(content)
	sort.Strings(types)
	if t, ok := lo.Find(types, isJSON); ok {
		return t
	}
	if len(types) > 0 {
		return types[0]
	}
	return ""
}

func isJSON(mediaType string) bool {
	return strings.Contains(mediaType, "json")
}

type pageable struct {
	ItemName     *string
	NextLinkName *string
	TokenName    *string
	TokenParam   *string
}

var pageableRecord = codec.NewRecord(PageableExtension,
	codec.Optional("itemName", codec.String, func(p *pageable) **string { return &p.ItemName }),
	codec.Optional("nextLinkName", codec.String, func(p *pageable) **string { return &p.NextLinkName }),
	codec.Optional("continuationTokenName", codec.String, func(p *pageable) **string { return &p.TokenName }),
	codec.Optional("continuationTokenParameter", codec.String, func(p *pageable) **string { return &p.TokenParam }),
)

// pagingOf reads the pageable extension. A pageable operation whose next
// link name is null returns all items in one page.
func pagingOf(op *openapi3.Operation) (*model.Paging, error) {
	raw, ok := op.Extensions[PageableExtension]
	if !ok {
		return nil, nil
	}
	// Extension values arrive as generic JSON values.
	data, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", PageableExtension, err)
	}
	p, err := pageableRecord.Unmarshal(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", PageableExtension, err)
	}

	paging := &model.Paging{ItemsField: lo.FromPtr(p.ItemName)}
	switch {
	case p.TokenName != nil:
		paging.TokenField = *p.TokenName
		paging.TokenParam = lo.FromPtrOr(p.TokenParam, *p.TokenName)
	case p.NextLinkName != nil:
		paging.NextLinkField = *p.NextLinkName
	default:
		return nil, nil
	}
	return paging, nil
}

// GetOperation returns the newest variant of an operation.
func (idx *Index) GetOperation(serviceID, operationID string) (IndexedOperation, bool) {
	svc, ok := idx.services[serviceID]
	if !ok {
		return IndexedOperation{}, false
	}
	variants := svc.ops[operationID]
	if len(variants) == 0 {
		return IndexedOperation{}, false
	}
	return variants[len(variants)-1], true
}

// AllOperationIDs returns all operation IDs for the given service, sorted.
func (idx *Index) AllOperationIDs(serviceID string) []string {
	svc, ok := idx.services[serviceID]
	if !ok {
		return nil
	}
	ids := lo.Keys(svc.ops)
	sort.Strings(ids)
	return ids
}

// BaseURL returns the endpoint of a service: the configured base URL, or
// the first server of its newest document.
func (idx *Index) BaseURL(serviceID string) string {
	if svc, ok := idx.services[serviceID]; ok {
		return svc.baseURL
	}
	return ""
}

// Versions returns the service's versions in load order.
func (idx *Index) Versions(serviceID string) (*model.VersionSet, error) {
	svc, ok := idx.services[serviceID]
	if !ok {
		return nil, fmt.Errorf("openapi: service %q is not loaded", serviceID)
	}
	return model.NewVersionSet(serviceID, svc.versions...)
}

// Table builds a descriptor table for the service. Each document version
// contributes one variant of every operation it declares; an operation a
// later document no longer declares is removed from that version on.
func (idx *Index) Table(serviceID string) (*invoker.Table, error) {
	versions, err := idx.Versions(serviceID)
	if err != nil {
		return nil, err
	}
	table := invoker.NewTable(versions)
	for _, id := range idx.AllOperationIDs(serviceID) {
		declared := make(map[model.ServiceVersion]*model.OperationDescriptor)
		for _, v := range idx.services[serviceID].ops[id] {
			declared[v.Version] = v.Descriptor
		}
		live := false
		for _, version := range versions.All() {
			switch desc, ok := declared[version]; {
			case ok:
				table.Register(desc, version)
				live = true
			case live:
				table.Remove(id, version)
				live = false
			}
		}
	}
	return table, nil
}

// ValidateRequest checks a request body against the newest variant's JSON
// schema: required properties must be present and present properties must
// match their schema.
func (idx *Index) ValidateRequest(serviceID, operationID string, body map[string]any) []model.FieldError {
	op, ok := idx.GetOperation(serviceID, operationID)
	if !ok {
		return []model.FieldError{{
			Field:   "operation",
			Code:    "UNKNOWN",
			Message: fmt.Sprintf("operation %s/%s not found", serviceID, operationID),
		}}
	}
	if op.RequestBody == nil {
		return nil
	}
	mt := op.RequestBody.Content.Get("application/json")
	if mt == nil || mt.Schema == nil || mt.Schema.Value == nil {
		return nil
	}
	schema := mt.Schema.Value

	var errs []model.FieldError
	for _, req := range schema.Required {
		if _, exists := body[req]; !exists {
			errs = append(errs, model.FieldError{Field: req, Code: "REQUIRED", Message: "is required"})
		}
	}

	names := lo.Keys(body)
	sort.Strings(names)
	for _, name := range names {
		prop, ok := schema.Properties[name]
		if !ok || prop.Value == nil {
			continue
		}
		if err := prop.Value.VisitJSON(body[name]); err != nil {
			msg := err.Error()
			var schemaErr *openapi3.SchemaError
			if errors.As(err, &schemaErr) {
				msg = schemaErr.Reason
			}
			errs = append(errs, model.FieldError{Field: name, Code: "INVALID", Message: msg})
		}
	}
	return errs
}
