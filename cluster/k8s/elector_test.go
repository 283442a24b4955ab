package k8s

import (
	"context"
	"log/slog"
	"testing"
	"time"

	coordinationv1 "k8s.io/api/coordination/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes/fake"

	"github.com/xraph/courier/id"
)

const testNS = "default"

func newTestElector(t *testing.T) (*Elector, *fake.Clientset) {
	t.Helper()
	cs := fake.NewClientset()
	return New(cs, testNS), cs
}

func TestAcquireLeadership_New(t *testing.T) {
	e, _ := newTestElector(t)
	ctx := context.Background()

	wID := id.NewWorkerID()
	acquired, err := e.AcquireLeadership(ctx, wID, 30*time.Second)
	if err != nil {
		t.Fatalf("AcquireLeadership: %v", err)
	}
	if !acquired {
		t.Fatal("expected to acquire leadership")
	}

	lease, err := e.client.CoordinationV1().Leases(testNS).Get(ctx, defaultLeaseName, metav1.GetOptions{})
	if err != nil {
		t.Fatalf("get lease: %v", err)
	}
	if got := *lease.Spec.HolderIdentity; got != wID.String() {
		t.Errorf("holder identity: got %q, want %q", got, wID.String())
	}
	if got := *lease.Spec.LeaseDurationSeconds; got != 30 {
		t.Errorf("lease duration: got %d, want 30", got)
	}
}

func TestAcquireLeadership_ReAcquire(t *testing.T) {
	e, _ := newTestElector(t)
	ctx := context.Background()
	wID := id.NewWorkerID()

	if ok, err := e.AcquireLeadership(ctx, wID, 30*time.Second); err != nil || !ok {
		t.Fatalf("first acquire: ok=%v err=%v", ok, err)
	}
	if ok, err := e.AcquireLeadership(ctx, wID, 60*time.Second); err != nil || !ok {
		t.Fatalf("re-acquire: ok=%v err=%v", ok, err)
	}
}

func TestAcquireLeadership_Contested(t *testing.T) {
	e, _ := newTestElector(t)
	ctx := context.Background()

	if ok, err := e.AcquireLeadership(ctx, id.NewWorkerID(), 30*time.Second); err != nil || !ok {
		t.Fatalf("w1 acquire: ok=%v err=%v", ok, err)
	}

	acquired, err := e.AcquireLeadership(ctx, id.NewWorkerID(), 30*time.Second)
	if err != nil {
		t.Fatalf("AcquireLeadership w2: %v", err)
	}
	if acquired {
		t.Fatal("expected w2 to NOT acquire (w1 holds lease)")
	}
}

func TestAcquireLeadership_ExpiredLease(t *testing.T) {
	e, cs := newTestElector(t)
	ctx := context.Background()

	w1 := id.NewWorkerID().String()
	ttlSec := int32(1)
	past := metav1.NewMicroTime(time.Now().UTC().Add(-5 * time.Second))

	expired := &coordinationv1.Lease{
		ObjectMeta: metav1.ObjectMeta{Name: defaultLeaseName, Namespace: testNS},
		Spec: coordinationv1.LeaseSpec{
			HolderIdentity:       &w1,
			LeaseDurationSeconds: &ttlSec,
			AcquireTime:          &past,
			RenewTime:            &past,
		},
	}
	if _, err := cs.CoordinationV1().Leases(testNS).Create(ctx, expired, metav1.CreateOptions{}); err != nil {
		t.Fatalf("create expired lease: %v", err)
	}

	w2 := id.NewWorkerID()
	acquired, err := e.AcquireLeadership(ctx, w2, 30*time.Second)
	if err != nil {
		t.Fatalf("AcquireLeadership w2: %v", err)
	}
	if !acquired {
		t.Fatal("expected w2 to acquire expired lease")
	}

	holder, err := e.Holder(ctx)
	if err != nil {
		t.Fatalf("Holder: %v", err)
	}
	if holder != w2.String() {
		t.Errorf("holder: got %q, want %q", holder, w2.String())
	}
}

func TestRenewLeadership(t *testing.T) {
	e, _ := newTestElector(t)
	ctx := context.Background()
	wID := id.NewWorkerID()

	if ok, err := e.AcquireLeadership(ctx, wID, 30*time.Second); err != nil || !ok {
		t.Fatalf("AcquireLeadership: ok=%v err=%v", ok, err)
	}

	renewed, err := e.RenewLeadership(ctx, wID, 60*time.Second)
	if err != nil {
		t.Fatalf("RenewLeadership: %v", err)
	}
	if !renewed {
		t.Fatal("expected renewal to succeed")
	}

	lease, err := e.client.CoordinationV1().Leases(testNS).Get(ctx, defaultLeaseName, metav1.GetOptions{})
	if err != nil {
		t.Fatalf("get lease: %v", err)
	}
	if got := *lease.Spec.LeaseDurationSeconds; got != 60 {
		t.Errorf("lease duration: got %d, want 60", got)
	}
}

func TestRenewLeadership_NotLeader(t *testing.T) {
	e, _ := newTestElector(t)
	ctx := context.Background()

	if ok, err := e.AcquireLeadership(ctx, id.NewWorkerID(), 30*time.Second); err != nil || !ok {
		t.Fatalf("AcquireLeadership: ok=%v err=%v", ok, err)
	}

	renewed, err := e.RenewLeadership(ctx, id.NewWorkerID(), 30*time.Second)
	if err != nil {
		t.Fatalf("RenewLeadership: %v", err)
	}
	if renewed {
		t.Fatal("expected renewal by non-holder to fail")
	}
}

func TestRenewLeadership_NoLease(t *testing.T) {
	e, _ := newTestElector(t)

	renewed, err := e.RenewLeadership(context.Background(), id.NewWorkerID(), 30*time.Second)
	if err != nil {
		t.Fatalf("RenewLeadership: %v", err)
	}
	if renewed {
		t.Fatal("expected renewal without lease to fail")
	}
}

func TestReleaseLeadership_HandsOver(t *testing.T) {
	e, _ := newTestElector(t)
	ctx := context.Background()
	w1, w2 := id.NewWorkerID(), id.NewWorkerID()

	if ok, err := e.AcquireLeadership(ctx, w1, time.Minute); err != nil || !ok {
		t.Fatalf("w1 acquire: ok=%v err=%v", ok, err)
	}
	if err := e.ReleaseLeadership(ctx, w2); err != nil {
		t.Fatalf("release by non-holder: %v", err)
	}
	if ok, _ := e.AcquireLeadership(ctx, w2, time.Minute); ok {
		t.Fatal("release by non-holder must not free the lease")
	}

	if err := e.ReleaseLeadership(ctx, w1); err != nil {
		t.Fatalf("ReleaseLeadership: %v", err)
	}
	holder, err := e.Holder(ctx)
	if err != nil {
		t.Fatalf("Holder: %v", err)
	}
	if holder != "" {
		t.Errorf("holder after release: got %q, want empty", holder)
	}
	if ok, err := e.AcquireLeadership(ctx, w2, time.Minute); err != nil || !ok {
		t.Fatalf("w2 acquire after release: ok=%v err=%v", ok, err)
	}
}

func TestHolder_NoLease(t *testing.T) {
	e, _ := newTestElector(t)
	holder, err := e.Holder(context.Background())
	if err != nil {
		t.Fatalf("Holder: %v", err)
	}
	if holder != "" {
		t.Errorf("expected no holder, got %q", holder)
	}
}

func TestOptions(t *testing.T) {
	logger := slog.Default()
	e := New(fake.NewClientset(), testNS,
		WithLeaseName("custom-lease"),
		WithLogger(logger),
	)
	if e.leaseName != "custom-lease" {
		t.Errorf("leaseName: got %q, want %q", e.leaseName, "custom-lease")
	}
	if e.logger != logger {
		t.Error("logger option not applied")
	}
}

func TestLeaseSeconds_FloorsAtOne(t *testing.T) {
	if got := leaseSeconds(200 * time.Millisecond); got != 1 {
		t.Errorf("leaseSeconds(200ms) = %d, want 1", got)
	}
	if got := leaseSeconds(90 * time.Second); got != 90 {
		t.Errorf("leaseSeconds(90s) = %d, want 90", got)
	}
}
