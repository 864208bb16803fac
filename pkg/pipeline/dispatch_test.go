package pipeline

import (
	"context"
	"testing"

	"github.com/boertel/aoe2/pkg/common/models"
)

type fakePublisher struct {
	published []dispatchCall
}

func (f *fakePublisher) PublishTask(ctx context.Context, stage string, attributes map[string]string) error {
	f.published = append(f.published, dispatchCall{stage: stage, attributes: attributes})
	return nil
}

func TestBusDispatcherPublishesEnvelope(t *testing.T) {
	publisher := &fakePublisher{}
	d := NewBusDispatcher(publisher)

	attributes := map[string]string{"match_id": "M1"}
	if err := d.Dispatch(context.Background(), StageDownload, attributes); err != nil {
		t.Fatal(err)
	}

	if len(publisher.published) != 1 {
		t.Fatalf("expected one publish, got %d", len(publisher.published))
	}
	got := publisher.published[0]
	if got.stage != StageDownload || got.attributes["match_id"] != "M1" {
		t.Fatalf("unexpected envelope: %+v", got)
	}
}

// Local and bus dispatch must be interchangeable: a stage delivered through
// the task envelope produces the same effects as a direct call.
func TestLocalDispatchMatchesDirectInvocation(t *testing.T) {
	run := func(viaDispatcher bool) *fakeBackend {
		be := newFakeBackend()
		be.records["M1"] = registeredMatch("M1", models.StatusFetched, 7)
		blobs := newFakeBlobs()
		blobs.data["M1"] = []byte("stored")

		s, _ := newTestStages(be, &fakeMetadata{}, blobs, &fakeResolver{}, &fakeDecoder{})
		ctx := context.Background()

		if viaDispatcher {
			local := NewLocalDispatcher(s)
			if err := local.Dispatch(ctx, StageDownload, map[string]string{"match_id": "M1"}); err != nil {
				t.Fatal(err)
			}
		} else {
			if err := s.Download(ctx, "M1"); err != nil {
				t.Fatal(err)
			}
		}
		return be
	}

	direct := run(false)
	dispatched := run(true)

	if len(direct.history["M1"]) != len(dispatched.history["M1"]) {
		t.Fatalf("dispatch paths diverge: %v vs %v", direct.history["M1"], dispatched.history["M1"])
	}
}
