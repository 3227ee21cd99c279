package widgets

import (
	"net/http"

	"github.com/pitabwire/restkit/internal/invoker"
	"github.com/pitabwire/restkit/model"
)

// Service versions, oldest first.
const (
	V1 model.ServiceVersion = "v1"
	V2 model.ServiceVersion = "v2"
)

// Versions is the widgets version set. The latest is V2.
var Versions = model.MustVersionSet("widgets", V1, V2)

// Operation IDs.
const (
	OpListWidgets       = "listWidgets"
	OpListWidgetsByLink = "listWidgetsByLink"
	OpGetWidget         = "getWidget"
	OpCreateWidget      = "createWidget"
	OpDeleteWidget      = "deleteWidget"
	OpGetColor          = "getColor"
	OpPutColor          = "putColor"
	OpGetEmbedding      = "getEmbedding"
	OpGetWidgetLabel    = "getWidgetLabel"
	OpAnalyzeWidget     = "analyzeWidget"
)

// Parameter names.
const (
	ParamAPIVersion        = "api-version"
	ParamWidgetName        = "widgetName"
	ParamMaxPageSize       = "maxpagesize"
	ParamContinuationToken = "continuationToken"
	ParamFilter            = "filter"
	ParamBody              = "body"
)

const jsonMedia = "application/json"

var (
	endpoint    = model.ParamBinding{Name: model.EndpointParam, In: model.InHost, Required: true}
	apiVersion  = model.ParamBinding{Name: ParamAPIVersion, In: model.InQuery, Required: true}
	widgetName  = model.ParamBinding{Name: ParamWidgetName, In: model.InPath, Required: true}
	maxPageSize = model.ParamBinding{Name: ParamMaxPageSize, In: model.InQuery}
	body        = model.ParamBinding{Name: ParamBody, In: model.InBody, Required: true}
)

// errorMap adds the service's declared 4XX/5XX catch-all to the shared
// mapping.
var errorMap = append(append([]model.ErrorMapping(nil), model.DefaultErrorMap...),
	model.ErrorMapping{Status: model.StatusRange{From: 400, To: 599}, Kind: model.KindHTTP},
)

func widgetOp(id, method, path string, success int, extra ...model.ParamBinding) *model.OperationDescriptor {
	return &model.OperationDescriptor{
		ID:           id,
		Method:       method,
		PathTemplate: path,
		SuccessCodes: []int{success},
		Errors:       errorMap,
		Params:       append([]model.ParamBinding{endpoint, apiVersion, widgetName}, extra...),
		Accept:       jsonMedia,
	}
}

func listWidgetsOp(extra ...model.ParamBinding) *model.OperationDescriptor {
	return &model.OperationDescriptor{
		ID:           OpListWidgets,
		Method:       http.MethodGet,
		PathTemplate: "/widgets",
		SuccessCodes: []int{http.StatusOK},
		Errors:       errorMap,
		Params: append([]model.ParamBinding{
			endpoint, apiVersion, maxPageSize,
			{Name: ParamContinuationToken, In: model.InQuery},
		}, extra...),
		Accept: jsonMedia,
		Paging: &model.Paging{
			ItemsField: "items",
			TokenField: "continuationToken",
			TokenParam: ParamContinuationToken,
		},
	}
}

// NewTable returns the descriptor table of every widgets operation.
func NewTable() *invoker.Table {
	t := invoker.NewTable(Versions)

	t.Register(listWidgetsOp(), V1)
	t.Register(listWidgetsOp(model.ParamBinding{Name: ParamFilter, In: model.InQuery}), V2)

	t.Register(&model.OperationDescriptor{
		ID:           OpListWidgetsByLink,
		Method:       http.MethodGet,
		PathTemplate: "/pages/widgets",
		SuccessCodes: []int{http.StatusOK},
		Errors:       errorMap,
		Params:       []model.ParamBinding{endpoint, apiVersion, maxPageSize},
		Accept:       jsonMedia,
		Paging:       &model.Paging{NextLinkField: "nextLink"},
	}, V1)

	t.Register(widgetOp(OpGetWidget, http.MethodGet, "/widgets/{widgetName}", http.StatusOK), V1)

	create := widgetOp(OpCreateWidget, http.MethodPut, "/widgets/{widgetName}", http.StatusCreated, body)
	create.ContentType = jsonMedia
	t.Register(create, V1)

	del := widgetOp(OpDeleteWidget, http.MethodDelete, "/widgets/{widgetName}", http.StatusNoContent)
	del.Accept = ""
	t.Register(del, V1)

	t.Register(widgetOp(OpGetColor, http.MethodGet, "/widgets/{widgetName}/color", http.StatusOK), V1)

	put := widgetOp(OpPutColor, http.MethodPut, "/widgets/{widgetName}/color", http.StatusNoContent, body)
	put.ContentType = jsonMedia
	t.Register(put, V1)

	t.Register(widgetOp(OpGetEmbedding, http.MethodGet, "/widgets/{widgetName}/embedding", http.StatusOK), V1)

	label := widgetOp(OpGetWidgetLabel, http.MethodGet, "/widgets/{widgetName}/label", http.StatusOK)
	label.Accept = "text/plain"
	label.Raw = true
	t.Register(label, V1)

	t.Register(widgetOp(OpAnalyzeWidget, http.MethodPost, "/widgets/{widgetName}/analyze", http.StatusOK), V2)

	return t
}
