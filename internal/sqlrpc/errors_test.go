package sqlrpc

import (
	"context"
	"errors"
	"testing"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"pkt.systems/querydesk/core"
	"pkt.systems/querydesk/schema"
)

func TestWrapRemoteErrorCodes(t *testing.T) {
	cases := []struct {
		code codes.Code
		kind core.RemoteErrorKind
	}{
		{codes.Unauthenticated, core.RemoteErrorUnauthenticated},
		{codes.PermissionDenied, core.RemoteErrorPermissionDenied},
		{codes.Unavailable, core.RemoteErrorUnavailable},
		{codes.InvalidArgument, core.RemoteErrorInvalidArgument},
		{codes.DeadlineExceeded, core.RemoteErrorTimeout},
		{codes.Internal, core.RemoteErrorUnknown},
	}
	for _, tc := range cases {
		wrapped := wrapRemoteError("query", status.Error(tc.code, "boom"))
		var remoteErr *core.RemoteError
		if !errors.As(wrapped, &remoteErr) {
			t.Fatalf("expected RemoteError, got %T", wrapped)
		}
		if remoteErr.Kind != tc.kind {
			t.Fatalf("code %s: expected %s, got %s", tc.code, tc.kind, remoteErr.Kind)
		}
		if remoteErr.Error() != "boom" {
			t.Fatalf("expected status message as error text, got %q", remoteErr.Error())
		}
	}
}

func TestWrapRemoteErrorCanceled(t *testing.T) {
	wrapped := wrapRemoteError("query", context.Canceled)
	var remoteErr *core.RemoteError
	if !errors.As(wrapped, &remoteErr) {
		t.Fatalf("expected RemoteError, got %T", wrapped)
	}
	if remoteErr.Kind != core.RemoteErrorCanceled {
		t.Fatalf("expected canceled, got %s", remoteErr.Kind)
	}
}

func TestToStatusMapsSentinels(t *testing.T) {
	if got := status.Code(toStatus(schema.ErrEmptyStatement)); got != codes.InvalidArgument {
		t.Fatalf("expected InvalidArgument, got %s", got)
	}
	if got := status.Code(toStatus(core.NewRemoteError(core.RemoteErrorPermissionDenied, "query", errors.New("no")))); got != codes.PermissionDenied {
		t.Fatalf("expected PermissionDenied, got %s", got)
	}
	if got := status.Code(toStatus(errors.New("disk on fire"))); got != codes.Internal {
		t.Fatalf("expected Internal, got %s", got)
	}
}
