package core

import (
	"context"

	"pkt.systems/querydesk/schema"
)

// Service is the transport-agnostic API for managing editor tabs, query
// execution, terminal sessions and query history.
type Service interface {
	CreateTab(ctx context.Context, req schema.CreateTabRequest) (schema.CreateTabResponse, error)
	CloseTab(ctx context.Context, req schema.CloseTabRequest) (schema.CloseTabResponse, error)
	SwitchTab(ctx context.Context, req schema.SwitchTabRequest) (schema.SwitchTabResponse, error)
	ListTabs(ctx context.Context, req schema.ListTabsRequest) (schema.ListTabsResponse, error)
	GetTab(ctx context.Context, req schema.GetTabRequest) (schema.GetTabResponse, error)
	UpdateTab(ctx context.Context, req schema.UpdateTabRequest) (schema.UpdateTabResponse, error)
	RenameTab(ctx context.Context, req schema.RenameTabRequest) (schema.RenameTabResponse, error)
	SaveTab(ctx context.Context, req schema.SaveTabRequest) (schema.SaveTabResponse, error)
	RunQuery(ctx context.Context, req schema.RunQueryRequest) (schema.RunQueryResponse, error)
	CancelQuery(ctx context.Context, req schema.CancelQueryRequest) (schema.CancelQueryResponse, error)
	RunTerminalQuery(ctx context.Context, req schema.RunTerminalQueryRequest) (schema.RunTerminalQueryResponse, error)
	GetTerminal(ctx context.Context, req schema.GetTerminalRequest) (schema.GetTerminalResponse, error)
	ClearTerminal(ctx context.Context, req schema.ClearTerminalRequest) (schema.ClearTerminalResponse, error)
	FetchQueryHistory(ctx context.Context, req schema.FetchQueryHistoryRequest) (schema.FetchQueryHistoryResponse, error)
	ListQueryHistory(ctx context.Context, req schema.ListQueryHistoryRequest) (schema.ListQueryHistoryResponse, error)
}
