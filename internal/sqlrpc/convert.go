package sqlrpc

import (
	"fmt"
	"time"

	"google.golang.org/protobuf/types/known/structpb"

	"pkt.systems/querydesk/schema"
)

func toPBQueryRequest(req schema.QueryRequest) *structpb.Struct {
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		"connection": structpb.NewStringValue(string(req.Connection)),
		"statement":  structpb.NewStringValue(req.Statement),
		"limit":      structpb.NewNumberValue(float64(req.Limit)),
		"format":     structpb.NewStringValue(string(req.Format)),
		"admin":      structpb.NewBoolValue(req.Admin),
	}}
}

func fromPBQueryRequest(msg *structpb.Struct) schema.QueryRequest {
	fields := msg.GetFields()
	return schema.QueryRequest{
		Connection: schema.ConnectionTarget(fields["connection"].GetStringValue()),
		Statement:  fields["statement"].GetStringValue(),
		Limit:      int(fields["limit"].GetNumberValue()),
		Format:     schema.OutputFormat(fields["format"].GetStringValue()),
		Admin:      fields["admin"].GetBoolValue(),
	}
}

func toPBQueryResponse(resp schema.QueryResponse) *structpb.Struct {
	results := make([]*structpb.Value, 0, len(resp.Results))
	for _, result := range resp.Results {
		results = append(results, structpb.NewStructValue(toPBQueryResult(result)))
	}
	advices := make([]*structpb.Value, 0, len(resp.Advices))
	for _, advice := range resp.Advices {
		advices = append(advices, structpb.NewStructValue(&structpb.Struct{Fields: map[string]*structpb.Value{
			"status":  structpb.NewStringValue(string(advice.Status)),
			"code":    structpb.NewNumberValue(float64(advice.Code)),
			"title":   structpb.NewStringValue(advice.Title),
			"content": structpb.NewStringValue(advice.Content),
		}}))
	}
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		"results": structpb.NewListValue(&structpb.ListValue{Values: results}),
		"advices": structpb.NewListValue(&structpb.ListValue{Values: advices}),
	}}
}

func fromPBQueryResponse(msg *structpb.Struct) schema.QueryResponse {
	fields := msg.GetFields()
	out := schema.QueryResponse{
		Results: []schema.QueryResult{},
		Advices: []schema.Advice{},
	}
	for _, value := range fields["results"].GetListValue().GetValues() {
		out.Results = append(out.Results, fromPBQueryResult(value.GetStructValue()))
	}
	for _, value := range fields["advices"].GetListValue().GetValues() {
		advice := value.GetStructValue().GetFields()
		out.Advices = append(out.Advices, schema.Advice{
			Status:  schema.AdviceStatus(advice["status"].GetStringValue()),
			Code:    int(advice["code"].GetNumberValue()),
			Title:   advice["title"].GetStringValue(),
			Content: advice["content"].GetStringValue(),
		})
	}
	return out
}

func toPBQueryResult(result schema.QueryResult) *structpb.Struct {
	rows := make([]*structpb.Value, 0, len(result.Rows))
	for _, row := range result.Rows {
		fields := make(map[string]*structpb.Value, len(row))
		for column, value := range row {
			fields[column] = toPBValue(value)
		}
		rows = append(rows, structpb.NewStructValue(&structpb.Struct{Fields: fields}))
	}
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		"statement":       structpb.NewStringValue(result.Statement),
		"columnNames":     stringList(result.ColumnNames),
		"columnTypeNames": stringList(result.ColumnTypeNames),
		"rows":            structpb.NewListValue(&structpb.ListValue{Values: rows}),
		"error":           structpb.NewStringValue(result.Error),
		"latency":         structpb.NewStringValue(result.Latency.String()),
	}}
}

func fromPBQueryResult(msg *structpb.Struct) schema.QueryResult {
	fields := msg.GetFields()
	out := schema.QueryResult{
		Statement:       fields["statement"].GetStringValue(),
		ColumnNames:     fromStringList(fields["columnNames"]),
		ColumnTypeNames: fromStringList(fields["columnTypeNames"]),
		Rows:            []schema.Row{},
		Error:           fields["error"].GetStringValue(),
	}
	if latency, err := time.ParseDuration(fields["latency"].GetStringValue()); err == nil {
		out.Latency = latency
	}
	for _, value := range fields["rows"].GetListValue().GetValues() {
		out.Rows = append(out.Rows, schema.Row(value.GetStructValue().AsMap()))
	}
	return out
}

func toPBSearchRequest(req schema.SearchQueryHistoriesRequest) *structpb.Struct {
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		"pageSize": structpb.NewNumberValue(float64(req.PageSize)),
		"filter":   structpb.NewStringValue(req.Filter),
	}}
}

func fromPBSearchRequest(msg *structpb.Struct) schema.SearchQueryHistoriesRequest {
	fields := msg.GetFields()
	return schema.SearchQueryHistoriesRequest{
		PageSize: int(fields["pageSize"].GetNumberValue()),
		Filter:   fields["filter"].GetStringValue(),
	}
}

func toPBSearchResponse(resp schema.SearchQueryHistoriesResponse) *structpb.Struct {
	histories := make([]*structpb.Value, 0, len(resp.QueryHistories))
	for _, history := range resp.QueryHistories {
		created := ""
		if !history.CreatedAt.IsZero() {
			created = history.CreatedAt.UTC().Format(time.RFC3339Nano)
		}
		histories = append(histories, structpb.NewStructValue(&structpb.Struct{Fields: map[string]*structpb.Value{
			"name":       structpb.NewStringValue(history.Name),
			"statement":  structpb.NewStringValue(history.Statement),
			"connection": structpb.NewStringValue(string(history.Connection)),
			"type":       structpb.NewStringValue(string(history.Type)),
			"duration":   structpb.NewStringValue(history.Duration.String()),
			"error":      structpb.NewStringValue(history.Error),
			"createTime": structpb.NewStringValue(created),
		}}))
	}
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		"queryHistories": structpb.NewListValue(&structpb.ListValue{Values: histories}),
	}}
}

func fromPBSearchResponse(msg *structpb.Struct) schema.SearchQueryHistoriesResponse {
	out := schema.SearchQueryHistoriesResponse{QueryHistories: []schema.QueryHistory{}}
	for _, value := range msg.GetFields()["queryHistories"].GetListValue().GetValues() {
		fields := value.GetStructValue().GetFields()
		history := schema.QueryHistory{
			Name:       fields["name"].GetStringValue(),
			Statement:  fields["statement"].GetStringValue(),
			Connection: schema.ConnectionTarget(fields["connection"].GetStringValue()),
			Type:       schema.QueryHistoryType(fields["type"].GetStringValue()),
			Error:      fields["error"].GetStringValue(),
		}
		if duration, err := time.ParseDuration(fields["duration"].GetStringValue()); err == nil {
			history.Duration = duration
		}
		if created, err := time.Parse(time.RFC3339Nano, fields["createTime"].GetStringValue()); err == nil {
			history.CreatedAt = created
		}
		out.QueryHistories = append(out.QueryHistories, history)
	}
	return out
}

// toPBValue converts a cell value. Types structpb cannot carry are sent in
// their string form.
func toPBValue(value any) *structpb.Value {
	switch v := value.(type) {
	case time.Time:
		return structpb.NewStringValue(v.UTC().Format(time.RFC3339Nano))
	case fmt.Stringer:
		return structpb.NewStringValue(v.String())
	}
	out, err := structpb.NewValue(value)
	if err != nil {
		return structpb.NewStringValue(fmt.Sprint(value))
	}
	return out
}

func stringList(values []string) *structpb.Value {
	list := make([]*structpb.Value, 0, len(values))
	for _, value := range values {
		list = append(list, structpb.NewStringValue(value))
	}
	return structpb.NewListValue(&structpb.ListValue{Values: list})
}

func fromStringList(value *structpb.Value) []string {
	values := value.GetListValue().GetValues()
	out := make([]string, 0, len(values))
	for _, item := range values {
		out = append(out, item.GetStringValue())
	}
	return out
}
