package k8s

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	coordinationv1 "k8s.io/api/coordination/v1"
	"k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"

	"github.com/xraph/courier/cluster"
	"github.com/xraph/courier/id"
)

var _ cluster.Elector = (*Elector)(nil)

const defaultLeaseName = "courier-leader"

// Elector implements cluster.Elector with a coordination/v1 Lease.
type Elector struct {
	client    kubernetes.Interface
	namespace string
	leaseName string
	logger    *slog.Logger
}

// New creates a Lease-backed elector in namespace.
func New(client kubernetes.Interface, namespace string, opts ...Option) *Elector {
	e := &Elector{
		client:    client,
		namespace: namespace,
		leaseName: defaultLeaseName,
		logger:    slog.Default(),
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// AcquireLeadership creates the Lease, or takes it over when it is expired
// or already ours. An update conflict means another worker won the race.
func (e *Elector) AcquireLeadership(ctx context.Context, workerID id.WorkerID, ttl time.Duration) (bool, error) {
	wID := workerID.String()
	now := metav1.NewMicroTime(time.Now().UTC())
	ttlSec := leaseSeconds(ttl)

	leases := e.client.CoordinationV1().Leases(e.namespace)
	lease, err := leases.Get(ctx, e.leaseName, metav1.GetOptions{})
	if errors.IsNotFound(err) {
		newLease := &coordinationv1.Lease{
			ObjectMeta: metav1.ObjectMeta{
				Name:      e.leaseName,
				Namespace: e.namespace,
			},
			Spec: coordinationv1.LeaseSpec{
				HolderIdentity:       &wID,
				LeaseDurationSeconds: &ttlSec,
				AcquireTime:          &now,
				RenewTime:            &now,
			},
		}
		if _, err := leases.Create(ctx, newLease, metav1.CreateOptions{}); err != nil {
			if errors.IsAlreadyExists(err) {
				return false, nil
			}
			return false, fmt.Errorf("k8s: create lease: %w", err)
		}
		return true, nil
	}
	if err != nil {
		return false, fmt.Errorf("k8s: get lease: %w", err)
	}

	if heldByOther(lease, wID) {
		return false, nil
	}

	if lease.Spec.HolderIdentity == nil || *lease.Spec.HolderIdentity != wID {
		lease.Spec.AcquireTime = &now
		e.logger.Info("k8s: taking over leader lease", slog.String("worker_id", wID))
	}
	lease.Spec.HolderIdentity = &wID
	lease.Spec.LeaseDurationSeconds = &ttlSec
	lease.Spec.RenewTime = &now

	if _, err := leases.Update(ctx, lease, metav1.UpdateOptions{}); err != nil {
		if errors.IsConflict(err) {
			return false, nil
		}
		return false, fmt.Errorf("k8s: update lease (acquire): %w", err)
	}
	return true, nil
}

// RenewLeadership extends the Lease if workerID holds it.
func (e *Elector) RenewLeadership(ctx context.Context, workerID id.WorkerID, ttl time.Duration) (bool, error) {
	wID := workerID.String()
	now := metav1.NewMicroTime(time.Now().UTC())
	ttlSec := leaseSeconds(ttl)

	leases := e.client.CoordinationV1().Leases(e.namespace)
	lease, err := leases.Get(ctx, e.leaseName, metav1.GetOptions{})
	if err != nil {
		if errors.IsNotFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("k8s: renew get lease: %w", err)
	}

	if lease.Spec.HolderIdentity == nil || *lease.Spec.HolderIdentity != wID {
		return false, nil
	}

	lease.Spec.LeaseDurationSeconds = &ttlSec
	lease.Spec.RenewTime = &now

	if _, err := leases.Update(ctx, lease, metav1.UpdateOptions{}); err != nil {
		if errors.IsConflict(err) {
			return false, nil
		}
		return false, fmt.Errorf("k8s: renew update lease: %w", err)
	}
	return true, nil
}

// ReleaseLeadership clears the holder so another worker can take over
// without waiting for expiry.
func (e *Elector) ReleaseLeadership(ctx context.Context, workerID id.WorkerID) error {
	leases := e.client.CoordinationV1().Leases(e.namespace)
	lease, err := leases.Get(ctx, e.leaseName, metav1.GetOptions{})
	if err != nil {
		if errors.IsNotFound(err) {
			return nil
		}
		return fmt.Errorf("k8s: release get lease: %w", err)
	}
	if lease.Spec.HolderIdentity == nil || *lease.Spec.HolderIdentity != workerID.String() {
		return nil
	}

	empty := ""
	lease.Spec.HolderIdentity = &empty
	if _, err := leases.Update(ctx, lease, metav1.UpdateOptions{}); err != nil && !errors.IsConflict(err) {
		return fmt.Errorf("k8s: release update lease: %w", err)
	}
	return nil
}

// Holder returns the current unexpired holder, or "" if there is none.
func (e *Elector) Holder(ctx context.Context) (string, error) {
	lease, err := e.client.CoordinationV1().Leases(e.namespace).Get(ctx, e.leaseName, metav1.GetOptions{})
	if err != nil {
		if errors.IsNotFound(err) {
			return "", nil
		}
		return "", fmt.Errorf("k8s: get leader lease: %w", err)
	}
	if lease.Spec.HolderIdentity == nil || isExpired(lease) {
		return "", nil
	}
	return *lease.Spec.HolderIdentity, nil
}

func leaseSeconds(ttl time.Duration) int32 {
	s := int32(ttl / time.Second)
	if s < 1 {
		s = 1
	}
	return s
}

// heldByOther reports whether a different worker holds an unexpired lease.
func heldByOther(lease *coordinationv1.Lease, myID string) bool {
	if lease.Spec.HolderIdentity == nil || *lease.Spec.HolderIdentity == "" {
		return false
	}
	if *lease.Spec.HolderIdentity == myID {
		return false
	}
	return !isExpired(lease)
}

func isExpired(lease *coordinationv1.Lease) bool {
	if lease.Spec.RenewTime == nil || lease.Spec.LeaseDurationSeconds == nil {
		return true
	}
	dur := time.Duration(*lease.Spec.LeaseDurationSeconds) * time.Second
	return time.Now().UTC().After(lease.Spec.RenewTime.Time.Add(dur))
}
