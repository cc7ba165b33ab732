package progress_test

import (
	"testing"
	"time"

	"github.com/ZeroOneDeveloper/code01-judge/internal/judge/model"
	"github.com/ZeroOneDeveloper/code01-judge/internal/judge/progress"
	"github.com/ZeroOneDeveloper/code01-judge/internal/judge/sandbox/result"
)

func statusUpdate(submissionID string, status result.StatusCode, done int) model.JudgeStatusResponse {
	return model.JudgeStatusResponse{
		SubmissionID: submissionID,
		Status:       status,
		Progress:     model.Progress{TotalCases: 5, DoneCases: done},
	}
}

func receiveOne(t *testing.T, ch <-chan model.JudgeStatusResponse) model.JudgeStatusResponse {
	t.Helper()
	select {
	case status, ok := <-ch:
		if !ok {
			t.Fatal("channel closed unexpectedly")
		}
		return status
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for update")
	}
	return model.JudgeStatusResponse{}
}

func TestPublishReachesSubscriber(t *testing.T) {
	broker := progress.NewBroker()
	defer broker.Close()

	ch, cancel := broker.Subscribe("sub-1")
	defer cancel()

	broker.Publish(statusUpdate("sub-1", result.StatusPending, 1))
	got := receiveOne(t, ch)
	if got.Progress.DoneCases != 1 {
		t.Fatalf("expected done=1, got %+v", got.Progress)
	}
}

func TestSubscribersAreScopedBySubmission(t *testing.T) {
	broker := progress.NewBroker()
	defer broker.Close()

	ch, cancel := broker.Subscribe("sub-1")
	defer cancel()

	broker.Publish(statusUpdate("sub-2", result.StatusPending, 1))
	select {
	case status := <-ch:
		t.Fatalf("received update for a different submission: %+v", status)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestSubscribeReplaysLatestSnapshot(t *testing.T) {
	broker := progress.NewBroker()
	defer broker.Close()

	broker.Publish(statusUpdate("sub-1", result.StatusPending, 3))

	ch, cancel := broker.Subscribe("sub-1")
	defer cancel()
	got := receiveOne(t, ch)
	if got.Progress.DoneCases != 3 {
		t.Fatalf("expected replayed snapshot with done=3, got %+v", got.Progress)
	}
}

func TestTerminalStatusClearsSnapshot(t *testing.T) {
	broker := progress.NewBroker()
	defer broker.Close()

	broker.Publish(statusUpdate("sub-1", result.StatusPending, 4))
	broker.Publish(statusUpdate("sub-1", result.StatusAccepted, 5))

	ch, cancel := broker.Subscribe("sub-1")
	defer cancel()
	select {
	case status := <-ch:
		t.Fatalf("terminal submission must not replay a snapshot, got %+v", status)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestCancelStopsDelivery(t *testing.T) {
	broker := progress.NewBroker()
	defer broker.Close()

	ch, cancel := broker.Subscribe("sub-1")
	cancel()

	if _, ok := <-ch; ok {
		t.Fatal("expected channel closed after cancel")
	}
	// publishing after cancel must not panic
	broker.Publish(statusUpdate("sub-1", result.StatusPending, 1))
}

func TestSubscribeDuringCloseDoesNotPanic(t *testing.T) {
	for i := 0; i < 200; i++ {
		broker := progress.NewBroker()
		broker.Publish(statusUpdate("sub-1", result.StatusPending, 1))

		done := make(chan struct{})
		go func() {
			defer close(done)
			ch, cancel := broker.Subscribe("sub-1")
			defer cancel()
			// drain whatever arrived before the channel closed
			for range ch {
			}
		}()
		broker.Close()
		<-done
	}
}

func TestSlowSubscriberKeepsLatest(t *testing.T) {
	broker := progress.NewBroker()
	defer broker.Close()

	ch, cancel := broker.Subscribe("sub-1")
	defer cancel()

	// overflow the buffer without draining
	for i := 1; i <= 64; i++ {
		broker.Publish(statusUpdate("sub-1", result.StatusPending, i))
	}

	var last model.JudgeStatusResponse
	for {
		select {
		case status := <-ch:
			last = status
			continue
		case <-time.After(50 * time.Millisecond):
		}
		break
	}
	if last.Progress.DoneCases != 64 {
		t.Fatalf("expected the newest update retained, got done=%d", last.Progress.DoneCases)
	}
}
