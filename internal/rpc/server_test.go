package rpc

import (
	"context"
	"fmt"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"golang.org/x/time/rate"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"github.com/signalsfoundry/meshtopo/internal/engine"
	"github.com/signalsfoundry/meshtopo/internal/logging"
	"github.com/signalsfoundry/meshtopo/internal/observability"
	"github.com/signalsfoundry/meshtopo/internal/service"
	"github.com/signalsfoundry/meshtopo/kb"
)

type fixture struct {
	client  *TopologyClient
	conn    *grpc.ClientConn
	svc     *service.Service
	metrics *observability.RPCCollector
	updates chan service.Update
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	eng := engine.New(engine.WithDebounce(0))
	if err := eng.Start(context.Background()); err != nil {
		t.Fatalf("engine Start: %v", err)
	}
	svc := service.New(kb.NewStore(), eng, service.Options{})
	ctx, cancel := context.WithCancel(context.Background())
	runDone := make(chan struct{})
	go func() {
		defer close(runDone)
		_ = svc.Run(ctx)
	}()
	<-svc.Ready()

	updates := make(chan service.Update, 8)
	svc.Subscribe(func(u service.Update) { updates <- u })

	metrics, err := observability.NewRPCCollector(prometheus.NewRegistry())
	if err != nil {
		t.Fatalf("NewRPCCollector: %v", err)
	}
	gs, _ := NewGRPCServer(NewServer(svc, nil), ServerOptions{Metrics: metrics})
	lis := bufconn.Listen(1 << 20)
	go func() { _ = gs.Serve(lis) }()

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithChainUnaryInterceptor(RequestIDUnaryClientInterceptor()),
	)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}

	t.Cleanup(func() {
		conn.Close()
		gs.Stop()
		cancel()
		eng.Stop()
		<-runDone
	})
	return &fixture{client: NewTopologyClient(conn), conn: conn, svc: svc, metrics: metrics, updates: updates}
}

func captureJSON() []byte {
	var b strings.Builder
	b.WriteString(`{"local":{"hash":"F0000000"},"neighbors":{"A1000001":{"name":"hill","role":"repeater"},"B2000002":{"name":"tower"}},"packets":[`)
	for i := 0; i < 6; i++ {
		if i > 0 {
			b.WriteString(",")
		}
		fmt.Fprintf(&b, `{"packet_hash":"d-%d","src_hash":"A1000001","timestamp":%d,"snr":7.5},`, i, 1700000000+i)
		fmt.Fprintf(&b, `{"packet_hash":"t-%d","src_hash":"B2000002","forwarded_path":["A1"],"timestamp":%d}`, i, 1700000100+i)
	}
	b.WriteString(`]}`)
	return []byte(b.String())
}

func TestGetTopologyBeforeResultIsUnavailable(t *testing.T) {
	f := newFixture(t)
	_, err := f.client.GetTopology(context.Background())
	if status.Code(err) != codes.Unavailable {
		t.Fatalf("GetTopology() error = %v, want Unavailable", err)
	}
}

func TestSubmitCaptureThenGetTopology(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	summary, err := f.client.SubmitCapture(ctx, captureJSON())
	if err != nil {
		t.Fatalf("SubmitCapture() error = %v", err)
	}
	if summary.Packets != 12 || summary.Neighbors != 2 {
		t.Fatalf("summary = %+v", summary)
	}

	select {
	case u := <-f.updates:
		if u.Err != nil {
			t.Fatalf("computation failed: %v", u.Err)
		}
	case <-ctx.Done():
		t.Fatalf("no computation finished")
	}

	res, err := f.client.GetTopology(ctx)
	if err != nil {
		t.Fatalf("GetTopology() error = %v", err)
	}
	if res.LocalHash != "F0000000" || len(res.ValidatedEdges) != 2 {
		t.Fatalf("result local=%q validated=%v", res.LocalHash, res.ValidatedEdges)
	}
	if res.Stats.Packets != 12 {
		t.Fatalf("Stats.Packets = %d", res.Stats.Packets)
	}

	st, err := f.client.GetStatus(ctx)
	if err != nil {
		t.Fatalf("GetStatus() error = %v", err)
	}
	if st["has_result"] != true || st["packets"].(float64) != 12 {
		t.Fatalf("status = %v", st)
	}

	// The snapshot is unchanged, so only a forced run reaches the engine.
	id, err := f.client.Recompute(ctx)
	if err != nil {
		t.Fatalf("Recompute() error = %v", err)
	}
	if id == "" {
		t.Fatalf("Recompute() returned no request ID")
	}
	select {
	case u := <-f.updates:
		if u.RequestID != id || u.FromCache || u.Err != nil {
			t.Fatalf("update after Recompute = %+v, want computed %q", u, id)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("timed out waiting for recomputed topology")
	}

	if got := testutil.ToFloat64(f.metrics.Requests.WithLabelValues("TopologyService", "SubmitCapture", "OK")); got != 1 {
		t.Fatalf("SubmitCapture request metric = %v", got)
	}
}

func TestMergeCaptureKeepsExistingSnapshot(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := f.client.SubmitCapture(ctx, captureJSON()); err != nil {
		t.Fatalf("SubmitCapture() error = %v", err)
	}
	extra := []byte(`{"neighbors":{"C3000003":{"name":"ridge"}},"packets":[{"packet_hash":"m-0","src_hash":"C3000003","forwarded_path":["A1"],"timestamp":1700000200}]}`)
	summary, err := f.client.MergeCapture(ctx, extra)
	if err != nil {
		t.Fatalf("MergeCapture() error = %v", err)
	}
	if summary.Packets != 1 || summary.Neighbors != 1 {
		t.Fatalf("merge summary = %+v", summary)
	}
	st := f.svc.Status()
	if st.Packets != 13 || st.Neighbors != 3 {
		t.Fatalf("status after merge packets=%d neighbors=%d, want 13 and 3", st.Packets, st.Neighbors)
	}

	// A plain submit still replaces the snapshot.
	if _, err := f.client.SubmitCapture(ctx, extra); err != nil {
		t.Fatalf("SubmitCapture() error = %v", err)
	}
	if st := f.svc.Status(); st.Packets != 1 || st.Neighbors != 1 {
		t.Fatalf("status after replace packets=%d neighbors=%d, want 1 and 1", st.Packets, st.Neighbors)
	}
}

func TestSubmitCaptureRejectsGarbage(t *testing.T) {
	f := newFixture(t)
	_, err := f.client.SubmitCapture(context.Background(), []byte(`{"packets": 5}`))
	if status.Code(err) != codes.InvalidArgument {
		t.Fatalf("SubmitCapture() error = %v, want InvalidArgument", err)
	}
}

func TestHealthService(t *testing.T) {
	f := newFixture(t)
	resp, err := healthpb.NewHealthClient(f.conn).Check(context.Background(), &healthpb.HealthCheckRequest{Service: ServiceName})
	if err != nil {
		t.Fatalf("health Check() error = %v", err)
	}
	if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		t.Fatalf("health status = %v", resp.GetStatus())
	}
}

func TestRequestIDFromIncomingMetadata(t *testing.T) {
	interceptor := RequestIDUnaryServerInterceptor(nil)
	info := &grpc.UnaryServerInfo{FullMethod: GetStatusMethod}
	ctx := metadata.NewIncomingContext(context.Background(), metadata.Pairs(requestIDMetadataKey, "req-42"))

	var seen string
	_, err := interceptor(ctx, nil, info, func(ctx context.Context, _ any) (any, error) {
		seen = logging.RequestIDFromContext(ctx)
		return nil, nil
	})
	if err != nil {
		t.Fatalf("interceptor error = %v", err)
	}
	if seen != "req-42" {
		t.Fatalf("request id = %q, want req-42", seen)
	}
}

func TestRequestIDGeneratedWhenAbsent(t *testing.T) {
	interceptor := RequestIDUnaryServerInterceptor(nil)
	info := &grpc.UnaryServerInfo{FullMethod: GetStatusMethod}

	var seen string
	_, _ = interceptor(context.Background(), nil, info, func(ctx context.Context, _ any) (any, error) {
		seen = logging.RequestIDFromContext(ctx)
		return nil, nil
	})
	if seen == "" {
		t.Fatalf("expected a generated request id")
	}
}

func TestRequestIDClientInterceptorForwardsMetadata(t *testing.T) {
	interceptor := RequestIDUnaryClientInterceptor()
	ctx := logging.ContextWithRequestID(context.Background(), "req-7")

	var got []string
	invoker := func(ctx context.Context, _ string, _, _ any, _ *grpc.ClientConn, _ ...grpc.CallOption) error {
		md, _ := metadata.FromOutgoingContext(ctx)
		got = md.Get(requestIDMetadataKey)
		return nil
	}
	if err := interceptor(ctx, GetStatusMethod, nil, nil, nil, invoker); err != nil {
		t.Fatalf("interceptor error = %v", err)
	}
	if len(got) != 1 || got[0] != "req-7" {
		t.Fatalf("outgoing request id = %v", got)
	}
}

func TestRequestIDEchoedInHeader(t *testing.T) {
	f := newFixture(t)
	ctx := logging.ContextWithRequestID(context.Background(), "req-echo")

	var header metadata.MD
	if _, err := f.client.GetStatus(ctx, grpc.Header(&header)); err != nil {
		t.Fatalf("GetStatus() error = %v", err)
	}
	if got := header.Get(requestIDMetadataKey); len(got) != 1 || got[0] != "req-echo" {
		t.Fatalf("x-request-id header = %v, want [req-echo]", got)
	}
}

func TestRateLimitInterceptor(t *testing.T) {
	limiter := rate.NewLimiter(rate.Every(time.Hour), 1)
	interceptor := RateLimitUnaryServerInterceptor(limiter, SubmitCaptureMethod)
	ok := func(context.Context, any) (any, error) { return "ok", nil }

	submit := &grpc.UnaryServerInfo{FullMethod: SubmitCaptureMethod}
	if _, err := interceptor(context.Background(), nil, submit, ok); err != nil {
		t.Fatalf("first call error = %v", err)
	}
	if _, err := interceptor(context.Background(), nil, submit, ok); status.Code(err) != codes.ResourceExhausted {
		t.Fatalf("second call error = %v, want ResourceExhausted", err)
	}
	other := &grpc.UnaryServerInfo{FullMethod: GetStatusMethod}
	if _, err := interceptor(context.Background(), nil, other, ok); err != nil {
		t.Fatalf("unlimited method error = %v", err)
	}
}
