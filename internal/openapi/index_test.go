package openapi

import (
	"context"
	"errors"
	"net/http"
	"os"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/pitabwire/restkit/internal/config"
	"github.com/pitabwire/restkit/internal/observability"
	"github.com/pitabwire/restkit/model"
)

func loadTestIndex(t *testing.T, opts ...Option) *Index {
	t.Helper()
	idx := NewIndex(opts...)
	err := idx.Load(context.Background(), []SpecSource{
		{ServiceID: "widgets", BaseURL: "https://widgets.internal", SpecPath: "testdata/widgets-v1.yaml"},
		{ServiceID: "widgets", BaseURL: "https://widgets.internal", SpecPath: "testdata/widgets-v2.yaml"},
	})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	return idx
}

func TestIndex_Load(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := observability.InitMetrics(reg)
	idx := loadTestIndex(t, WithMetrics(metrics))

	want := []string{"analyzeWidget", "createWidget", "getWidget", "getWidgetLabel", "listWidgets", "listWidgetsByLink"}
	if diff := cmp.Diff(want, idx.AllOperationIDs("widgets")); diff != "" {
		t.Errorf("AllOperationIDs() mismatch (-want +got):\n%s", diff)
	}
	if got := testutil.ToFloat64(metrics.OperationsIndexed.WithLabelValues("widgets")); got != 6 {
		t.Errorf("operations indexed = %v, want 6", got)
	}
	if got := idx.BaseURL("widgets"); got != "https://widgets.internal" {
		t.Errorf("BaseURL() = %q, want https://widgets.internal", got)
	}
}

func TestIndex_GetOperation_newestVariant(t *testing.T) {
	idx := loadTestIndex(t)

	op, ok := idx.GetOperation("widgets", "listWidgets")
	if !ok {
		t.Fatal("GetOperation(listWidgets) not found")
	}
	if op.Version != "v2" {
		t.Errorf("Version = %q, want v2", op.Version)
	}
	if _, ok := op.Descriptor.Binding("filter"); !ok {
		t.Error("v2 listWidgets should bind filter")
	}

	_, ok = idx.GetOperation("widgets", "nonexistent")
	if ok {
		t.Error("GetOperation(nonexistent) should return false")
	}
	_, ok = idx.GetOperation("unknown-svc", "getWidget")
	if ok {
		t.Error("GetOperation(unknown-svc) should return false")
	}
}

func TestDescribe_CreateWidget(t *testing.T) {
	idx := NewIndex()
	if err := idx.Load(context.Background(), []SpecSource{{ServiceID: "widgets", SpecPath: "testdata/widgets-v1.yaml"}}); err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	op, ok := idx.GetOperation("widgets", "createWidget")
	if !ok {
		t.Fatal("GetOperation(createWidget) not found")
	}
	if op.BaseURL != "https://widgets.example.com" {
		t.Errorf("BaseURL = %q, want the first server URL", op.BaseURL)
	}

	want := &model.OperationDescriptor{
		ID:           "createWidget",
		Method:       http.MethodPut,
		PathTemplate: "/widgets/{widgetName}",
		SuccessCodes: []int{http.StatusCreated},
		Errors: []model.ErrorMapping{
			{Status: model.Status(401), Kind: model.KindAuthentication},
			{Status: model.Status(404), Kind: model.KindNotFound},
			{Status: model.Status(409), Kind: model.KindConflict},
			{Status: model.Status(422), Kind: model.KindHTTP},
			{Status: model.StatusRange{From: 500, To: 599}, Kind: model.KindHTTP},
		},
		Params: []model.ParamBinding{
			{Name: model.EndpointParam, In: model.InHost, Required: true},
			{Name: "widgetName", In: model.InPath, Required: true},
			{Name: "api-version", In: model.InQuery, Required: true},
			{Name: BodyParam, In: model.InBody, Required: true},
		},
		Accept:      "application/json",
		ContentType: "application/json",
	}
	if diff := cmp.Diff(want, op.Descriptor); diff != "" {
		t.Errorf("descriptor mismatch (-want +got):\n%s", diff)
	}
}

func TestDescribe_Paging(t *testing.T) {
	idx := loadTestIndex(t)

	tests := []struct {
		id   string
		want *model.Paging
	}{
		{"listWidgets", &model.Paging{ItemsField: "items", TokenField: "continuationToken", TokenParam: "continuationToken"}},
		{"listWidgetsByLink", &model.Paging{NextLinkField: "nextLink"}},
		{"getWidget", nil},
	}
	for _, tt := range tests {
		t.Run(tt.id, func(t *testing.T) {
			op, ok := idx.GetOperation("widgets", tt.id)
			if !ok {
				t.Fatalf("GetOperation(%s) not found", tt.id)
			}
			if diff := cmp.Diff(tt.want, op.Descriptor.Paging); diff != "" {
				t.Errorf("Paging mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestDescribe_DefaultResponseAndRaw(t *testing.T) {
	idx := loadTestIndex(t)

	table, err := idx.Table("widgets")
	if err != nil {
		t.Fatalf("Table() error = %v", err)
	}
	v1List, _ := table.Resolve("listWidgets", "v1")
	if kind, ok := v1List.ErrorKindFor(503); !ok || kind != model.KindHTTP {
		t.Errorf("v1 listWidgets ErrorKindFor(503) = %v, %v; want %v", kind, ok, model.KindHTTP)
	}
	v2List, _ := table.Resolve("listWidgets", "v2")
	if kind, ok := v2List.ErrorKindFor(503); ok {
		t.Errorf("v2 listWidgets ErrorKindFor(503) = %v, want unmapped", kind)
	}

	label, _ := idx.GetOperation("widgets", "getWidgetLabel")
	if !label.Descriptor.Raw {
		t.Error("getWidgetLabel should be raw")
	}
	if label.Descriptor.Accept != "image/png" {
		t.Errorf("Accept = %q, want image/png", label.Descriptor.Accept)
	}
}

func TestIndex_Table(t *testing.T) {
	idx := loadTestIndex(t)

	table, err := idx.Table("widgets")
	if err != nil {
		t.Fatalf("Table() error = %v", err)
	}
	if got := table.Versions().Latest(); got != "v2" {
		t.Errorf("Latest() = %q, want v2", got)
	}

	v1List, err := table.Resolve("listWidgets", "v1")
	if err != nil {
		t.Fatalf("Resolve(listWidgets, v1) error = %v", err)
	}
	if _, ok := v1List.Binding("filter"); ok {
		t.Error("v1 listWidgets should not bind filter")
	}

	_, err = table.Resolve("analyzeWidget", "v1")
	if !errors.Is(err, model.ErrNoVersion) {
		t.Errorf("Resolve(analyzeWidget, v1) error = %v, want ErrNoVersion", err)
	}
	if _, err := table.Resolve("analyzeWidget", "v2"); err != nil {
		t.Errorf("Resolve(analyzeWidget, v2) error = %v", err)
	}
	if _, err := table.Resolve("createWidget", "v1"); err != nil {
		t.Errorf("Resolve(createWidget, v1) error = %v", err)
	}
	// The v2 document no longer declares createWidget.
	_, err = table.Resolve("createWidget", "v2")
	if !errors.Is(err, model.ErrNoVersion) {
		t.Errorf("Resolve(createWidget, v2) error = %v, want ErrNoVersion", err)
	}
	if diff := cmp.Diff([]string{"analyzeWidget", "getWidget", "listWidgets"}, table.Available("v2")); diff != "" {
		t.Errorf("Available(v2) mismatch (-want +got):\n%s", diff)
	}

	if _, err := idx.Table("unknown-svc"); err == nil {
		t.Error("Table(unknown-svc) should fail")
	}
}

func TestIndex_ValidateRequest(t *testing.T) {
	idx := loadTestIndex(t)

	tests := []struct {
		name string
		op   string
		body map[string]any
		want []model.FieldError
	}{
		{
			name: "valid",
			op:   "createWidget",
			body: map[string]any{"name": "w1", "color": "red", "weight": 2.5},
		},
		{
			name: "missing required",
			op:   "createWidget",
			body: map[string]any{"weight": 1.0},
			want: []model.FieldError{
				{Field: "name", Code: "REQUIRED", Message: "is required"},
				{Field: "color", Code: "REQUIRED", Message: "is required"},
			},
		},
		{
			name: "no body",
			op:   "getWidget",
			body: map[string]any{},
		},
		{
			name: "unknown operation",
			op:   "nonexistent",
			body: map[string]any{},
			want: []model.FieldError{
				{Field: "operation", Code: "UNKNOWN", Message: "operation widgets/nonexistent not found"},
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := idx.ValidateRequest("widgets", tt.op, tt.body)
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("ValidateRequest() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestIndex_ValidateRequest_schemaMismatch(t *testing.T) {
	idx := loadTestIndex(t)
	errs := idx.ValidateRequest("widgets", "createWidget", map[string]any{
		"name":   "w1",
		"color":  "red",
		"weight": -1.0,
	})
	if len(errs) != 1 {
		t.Fatalf("ValidateRequest() = %v, want 1 error", errs)
	}
	if errs[0].Field != "weight" || errs[0].Code != "INVALID" {
		t.Errorf("error = %+v, want INVALID weight", errs[0])
	}
}

func TestIndex_Load_errors(t *testing.T) {
	idx := NewIndex()
	err := idx.Load(context.Background(), []SpecSource{{ServiceID: "bad-svc", SpecPath: "testdata/nonexistent.yaml"}})
	if err == nil {
		t.Fatal("Load() with bad file should return error")
	}

	data, err := os.ReadFile("testdata/widgets-v1.yaml")
	if err != nil {
		t.Fatal(err)
	}
	idx = NewIndex()
	if err := idx.LoadData(context.Background(), SpecSource{ServiceID: "widgets"}, data); err != nil {
		t.Fatalf("LoadData() error = %v", err)
	}
	if err := idx.LoadData(context.Background(), SpecSource{ServiceID: "widgets"}, data); err == nil {
		t.Error("loading the same version twice should fail")
	}
}

func TestSourcesFromConfig(t *testing.T) {
	got := SourcesFromConfig(config.SpecsConfig{
		Directory: "/etc/restkit/specs",
		Sources: []config.SpecSource{
			{ServiceID: "widgets", SpecFile: "widgets-v1.yaml"},
			{ServiceID: "widgets", SpecFile: "/opt/widgets-v2.yaml"},
		},
	})
	want := []SpecSource{
		{ServiceID: "widgets", SpecPath: "/etc/restkit/specs/widgets-v1.yaml"},
		{ServiceID: "widgets", SpecPath: "/opt/widgets-v2.yaml"},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("SourcesFromConfig() mismatch (-want +got):\n%s", diff)
	}
}
