package actors

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync/atomic"
	"time"

	"disputeflow/agreement"
	"disputeflow/dispute"
)

// Tally counts actor outcomes. Expected domain rejections are not failures.
type Tally struct {
	Succeeded atomic.Int64
	Rejected  atomic.Int64
	Transient atomic.Int64
}

func (t *Tally) record(err error) {
	switch {
	case err == nil:
		t.Succeeded.Add(1)
	case errors.Is(err, dispute.ErrConflict), errors.Is(err, dispute.ErrInvalidState):
		t.Rejected.Add(1)
	default:
		t.Transient.Add(1)
	}
}

func (t *Tally) String() string {
	return fmt.Sprintf("ok=%d rejected=%d transient=%d", t.Succeeded.Load(), t.Rejected.Load(), t.Transient.Load())
}

func pause() {
	time.Sleep(time.Duration(5+rand.Intn(15)) * time.Millisecond)
}

func stopped(ctx context.Context, stop <-chan struct{}) bool {
	select {
	case <-ctx.Done():
		return true
	case <-stop:
		return true
	default:
		return false
	}
}

// Signer keeps signing whatever agreement version it last read.
func Signer(ctx context.Context, svc *dispute.Service, caller dispute.Identity, role agreement.PartyRole, id string, tally *Tally, stop <-chan struct{}) error {
	for !stopped(ctx, stop) {
		doc, err := svc.Agreement(ctx, caller, id)
		if err != nil {
			tally.record(err)
			pause()
			continue
		}
		pause()
		_, _, err = svc.Sign(ctx, caller, id, dispute.SignRequest{SignRequest: agreement.SignRequest{
			PartyRole:       role,
			SignatureType:   agreement.SignatureTyped,
			TypedName:       caller.Email,
			DocumentVersion: doc.Version,
			DocumentHash:    doc.Hash,
		}})
		tally.record(err)
	}
	return nil
}

// Proposer rewrites the resolution text, forcing new agreement versions.
func Proposer(ctx context.Context, svc *dispute.Service, caller dispute.Identity, id string, tally *Tally, stop <-chan struct{}) error {
	for !stopped(ctx, stop) {
		_, err := svc.ProposeResolution(ctx, caller, id, fmt.Sprintf("Refund %d percent within 7 days", 10+rand.Intn(80)))
		tally.record(err)
		time.Sleep(time.Duration(20+rand.Intn(40)) * time.Millisecond)
	}
	return nil
}

// Escalator asks for manual review now and then.
func Escalator(ctx context.Context, svc *dispute.Service, caller dispute.Identity, id string, tally *Tally, stop <-chan struct{}) error {
	for !stopped(ctx, stop) {
		_, err := svc.Escalate(ctx, caller, id, "no progress")
		tally.record(err)
		time.Sleep(time.Duration(50+rand.Intn(100)) * time.Millisecond)
	}
	return nil
}

// Chatter posts messages until the dispute's message limit stops it.
func Chatter(ctx context.Context, svc *dispute.Service, caller dispute.Identity, id string, tally *Tally, stop <-chan struct{}) error {
	for n := 0; !stopped(ctx, stop); n++ {
		_, err := svc.PostMessage(ctx, caller, id, fmt.Sprintf("message %d from %s", n, caller.Email))
		tally.record(err)
		pause()
	}
	return nil
}

// Admin approves or sends back whatever reaches it.
func Admin(ctx context.Context, svc *dispute.Service, caller dispute.Identity, ids []string, tally *Tally, stop <-chan struct{}) error {
	for !stopped(ctx, stop) {
		for _, id := range ids {
			d, err := svc.Get(ctx, caller, id)
			if err != nil {
				tally.record(err)
				continue
			}
			switch d.Status {
			case dispute.StatusPendingApproval:
				if rand.Intn(2) == 0 {
					_, err = svc.Approve(ctx, caller, id, "ok")
				} else {
					_, err = svc.RejectResolution(ctx, caller, id, "be more specific")
				}
				tally.record(err)
			case dispute.StatusEscalated:
				_, err = svc.ResolveEscalation(ctx, caller, id, "Split the amount evenly", "admin ruling")
				tally.record(err)
			}
		}
		time.Sleep(30 * time.Millisecond)
	}
	return nil
}
