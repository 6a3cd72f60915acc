package barrier_test

import (
	"sync"
	"testing"
	"time"

	"github.com/jabolina/netcluster/pkg/netcluster/barrier"
	"github.com/jabolina/netcluster/pkg/netcluster/nettest"
	"github.com/jabolina/netcluster/pkg/netcluster/types"
	"github.com/jabolina/netcluster/pkg/netcluster/wire"
	"go.uber.org/goleak"
)

const timeout = 5 * time.Second

// enterAll calls Enter concurrently on every given replica and returns a
// channel that receives one error per call (nil on success), closed once
// all calls have returned.
func enterAll(replicas ...*barrier.Barrier) <-chan error {
	results := make(chan error, len(replicas))
	var wg sync.WaitGroup
	for _, r := range replicas {
		wg.Add(1)
		go func(r *barrier.Barrier) {
			defer wg.Done()
			results <- r.Enter()
		}(r)
	}
	go func() {
		wg.Wait()
		close(results)
	}()
	return results
}

// TestAllContributorsReleaseTogether: height 3, one local master and two
// remote slaves, all entering at version 1. All three must return once
// the third send lands at the master.
func TestAllContributorsReleaseTogether(t *testing.T) {
	defer goleak.VerifyNone(t)

	cluster := nettest.NewCluster(t, 3)
	defer cluster.Stop()

	results := enterAll(cluster.All()...)

	if !nettest.WaitOrTimeout(func() {
		for err := range results {
			if err != nil {
				t.Errorf("enter failed: %v", err)
			}
		}
	}, timeout) {
		t.Fatal("not all contributors returned from Enter before the timeout")
	}
}

// TestEarlyArrivalReleasesOnceMasterCatchesUp: height 2, the contributor
// enters at version 2 while the master is still at version 1 and must
// remain blocked until the master advances its own version and enters
// too.
func TestEarlyArrivalReleasesOnceMasterCatchesUp(t *testing.T) {
	defer goleak.VerifyNone(t)

	cluster := nettest.NewCluster(t, 2)
	defer cluster.Stop()

	contributor := cluster.Slaves[0]
	contributor.SetVersion(2)

	contributorDone := make(chan error, 1)
	go func() { contributorDone <- contributor.Enter() }()

	// The contributor must still be blocked: the master hasn't reached
	// version 2 yet, so nothing can have released it.
	select {
	case err := <-contributorDone:
		t.Fatalf("contributor returned from Enter before the master caught up (err=%v)", err)
	case <-time.After(200 * time.Millisecond):
	}

	cluster.Master.SetVersion(2)
	masterDone := make(chan error, 1)
	go func() { masterDone <- cluster.Master.Enter() }()

	if !nettest.WaitOrTimeout(func() {
		if err := <-contributorDone; err != nil {
			t.Errorf("contributor enter failed: %v", err)
		}
		if err := <-masterDone; err != nil {
			t.Errorf("master enter failed: %v", err)
		}
	}, timeout) {
		t.Fatal("both contributors did not return from Enter once the master caught up")
	}
}

// TestHeightOneReturnsImmediately: a height-1 barrier never blocks and
// never touches the wire.
func TestHeightOneReturnsImmediately(t *testing.T) {
	defer goleak.VerifyNone(t)

	cluster := nettest.NewCluster(t, 1)
	defer cluster.Stop()

	if !nettest.WaitOrTimeout(func() {
		if err := cluster.Master.Enter(); err != nil {
			t.Errorf("height-1 enter failed: %v", err)
		}
	}, 500*time.Millisecond) {
		t.Fatal("height-1 Enter did not return immediately")
	}
}

// TestTwoReplicasOnSameNodeBothRelease: two replicas of the same barrier
// attached to the same non-master node each release independently - the
// master counts the node twice and sends one reply per entry.
func TestTwoReplicasOnSameNodeBothRelease(t *testing.T) {
	defer goleak.VerifyNone(t)

	cluster := nettest.NewCluster(t, 2)
	defer cluster.Stop()

	second := cluster.AddReplicaOn(cluster.SlaveSessions[0])

	// Height 2, and both contributors live on the same non-master node:
	// the master itself never enters in this scenario.
	results := enterAll(cluster.Slaves[0], second)

	if !nettest.WaitOrTimeout(func() {
		for err := range results {
			if err != nil {
				t.Errorf("replica enter failed: %v", err)
			}
		}
	}, timeout) {
		t.Fatal("not both same-node replicas released")
	}
}

// TestIndependentBarriersDoNotCrossRelease: two height-2 barriers sharing
// the same pair of nodes must not let an enter on one satisfy the other.
func TestIndependentBarriersDoNotCrossRelease(t *testing.T) {
	defer goleak.VerifyNone(t)

	cluster := nettest.NewCluster(t, 2)
	defer cluster.Stop()

	// Barrier B: a second height-2 barrier object hosted on the same master
	// node, with its slave replica on the same slave node as barrier A's.
	masterB := barrier.NewMasterBarrier(cluster.MasterSession.LocalNode(), 2)
	objectB := cluster.MasterSession.RegisterObject(masterB)
	slaveB := barrier.NewSlaveBarrier()
	slaveB.ApplyInstanceData(masterB.GetInstanceData())
	cluster.SlaveSessions[0].MapObject(objectB, slaveB)

	// Only enter barrier A's two contributors; barrier B's contributors
	// never enter at all.
	results := enterAll(cluster.Master, cluster.Slaves[0])

	if !nettest.WaitOrTimeout(func() {
		for err := range results {
			if err != nil {
				t.Errorf("barrier A enter failed: %v", err)
			}
		}
	}, timeout) {
		t.Fatal("barrier A's contributors never released")
	}

	// Barrier B must still be unsatisfied: nobody entered it.
	bDone := make(chan error, 1)
	go func() { bDone <- masterB.Enter() }()
	select {
	case err := <-bDone:
		t.Fatalf("barrier B released without any of its contributors entering (err=%v)", err)
	case <-time.After(200 * time.Millisecond):
	}
	slaveB.Enter() // unblock the goroutine so the test can exit cleanly
	<-bDone
}

// TestNoPrematureRelease: with N contributors, no enter returns before
// the Nth has sent its request.
func TestNoPrematureRelease(t *testing.T) {
	defer goleak.VerifyNone(t)

	cluster := nettest.NewCluster(t, 3)
	defer cluster.Stop()

	firstDone := make(chan error, 1)
	go func() { firstDone <- cluster.Master.Enter() }()
	secondDone := make(chan error, 1)
	go func() { secondDone <- cluster.Slaves[0].Enter() }()

	select {
	case <-firstDone:
		t.Fatal("a contributor returned after only 2 of 3 entered")
	case <-secondDone:
		t.Fatal("a contributor returned after only 2 of 3 entered")
	case <-time.After(200 * time.Millisecond):
	}

	thirdDone := make(chan error, 1)
	go func() { thirdDone <- cluster.Slaves[1].Enter() }()

	if !nettest.WaitOrTimeout(func() {
		<-firstDone
		<-secondDone
		<-thirdDone
	}, timeout) {
		t.Fatal("not all three released once the third entered")
	}
}

// TestVersionIsolation: an enter at version v must never satisfy an
// enter at a different version v'. Two non-master
// replicas on the same node enter at different versions; together they
// match the barrier's height, but since they're in separate version
// buckets neither may release the other. The master then separately
// completes each bucket (sequentially, since one replica can't be in two
// concurrent Enter calls) to confirm both were merely parked, not lost.
func TestVersionIsolation(t *testing.T) {
	defer goleak.VerifyNone(t)

	cluster := nettest.NewCluster(t, 2)
	defer cluster.Stop()

	replicaA := cluster.Slaves[0]
	replicaB := cluster.AddReplicaOn(cluster.SlaveSessions[0])
	replicaB.SetVersion(2)

	aDone := make(chan error, 1)
	go func() { aDone <- replicaA.Enter() }() // version 1 (default)
	bDone := make(chan error, 1)
	go func() { bDone <- replicaB.Enter() }() // version 2, early arrival

	select {
	case <-aDone:
		t.Fatal("version-1 and version-2 entries combined to release the version-1 waiter")
	case <-bDone:
		t.Fatal("version-1 and version-2 entries combined to release the version-2 waiter")
	case <-time.After(300 * time.Millisecond):
	}

	// Satisfy the version-1 bucket: the master's own default version is
	// also 1, so its Enter is the second v1 entry.
	if !nettest.WaitOrTimeout(func() {
		if err := cluster.Master.Enter(); err != nil {
			t.Errorf("version-1 master enter failed: %v", err)
		}
		if err := <-aDone; err != nil {
			t.Errorf("version-1 replica enter failed: %v", err)
		}
	}, timeout) {
		t.Fatal("version-1 bucket never released")
	}

	select {
	case <-bDone:
		t.Fatal("completing the version-1 bucket incorrectly released the version-2 waiter")
	default:
	}

	// Now satisfy the version-2 bucket the same way.
	cluster.Master.SetVersion(2)
	if !nettest.WaitOrTimeout(func() {
		if err := cluster.Master.Enter(); err != nil {
			t.Errorf("version-2 master enter failed: %v", err)
		}
		if err := <-bDone; err != nil {
			t.Errorf("version-2 replica enter failed: %v", err)
		}
	}, timeout) {
		t.Fatal("version-2 bucket never released")
	}
}

// TestInstanceDataRoundTrip checks (height, masterID) survives the codec
// unchanged.
func TestInstanceDataRoundTrip(t *testing.T) {
	want := wire.BarrierInstanceData{
		Height:   7,
		MasterID: [16]byte(types.NewNodeID()),
	}
	got, err := nettest.InstanceData(want)
	if err != nil {
		t.Fatalf("round-trip failed: %v", err)
	}
	if got != want {
		t.Fatalf("round-trip mismatch: got %+v, want %+v", got, want)
	}
}
