package call

import (
	"errors"
	"sync"
	"testing"

	"github.com/cargomart/cargomart-go/internal/bus"
	"github.com/cargomart/cargomart-go/internal/models"
)

type fakeSocket struct {
	mu     sync.Mutex
	frames []any
	err    error
}

func (f *fakeSocket) Send(frame any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.frames = append(f.frames, frame)
	return nil
}

type recordingTimeline struct {
	mu   sync.Mutex
	msgs []models.Message
}

func (r *recordingTimeline) Reconcile(m models.Message) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, m)
}

func TestRecordWritesCallCard(t *testing.T) {
	tl := &recordingTimeline{}
	b := bus.New()
	var report Report
	b.Subscribe(bus.CallReport, func(ev bus.Event) { report = ev.Payload.(Report) })

	br := NewBridge(tl, &fakeSocket{}, b, nil)
	err := br.Record("c1", models.CallDetail{
		CallID: "call-7", Status: models.CallEnded,
		Direction: models.CallOutgoing, Duration: 83,
	})
	if err != nil {
		t.Fatalf("Record: %v", err)
	}

	if len(tl.msgs) != 1 {
		t.Fatalf("%d messages, want 1", len(tl.msgs))
	}
	m := tl.msgs[0]
	if m.Kind != models.KindCall || m.Call == nil {
		t.Fatalf("message %+v is not a call card", m)
	}
	if m.Call.Duration != 83 || m.Call.Status != models.CallEnded {
		t.Fatalf("call detail %+v", m.Call)
	}
	if m.EventID != "call:call-7" {
		t.Fatalf("event id %q", m.EventID)
	}
	if report.Detail.CallID != "call-7" {
		t.Fatalf("bus report %+v", report)
	}
}

func TestRecordRejectsDuplicate(t *testing.T) {
	tl := &recordingTimeline{}
	br := NewBridge(tl, &fakeSocket{}, bus.New(), nil)

	detail := models.CallDetail{CallID: "call-7", Status: models.CallEnded, Duration: 83}
	if err := br.Record("c1", detail); err != nil {
		t.Fatalf("first report: %v", err)
	}
	if err := br.Record("c1", detail); !errors.Is(err, ErrDuplicateReport) {
		t.Fatalf("second report: %v, want ErrDuplicateReport", err)
	}
	if len(tl.msgs) != 1 {
		t.Fatalf("%d messages after duplicate report, want 1", len(tl.msgs))
	}
}

func TestFrameLifecycle(t *testing.T) {
	tl := &recordingTimeline{}
	br := NewBridge(tl, &fakeSocket{}, bus.New(), nil)

	br.HandleFrame(models.Frame{
		Event: models.EventCallStarted,
		Raw:   []byte(`{"event":"call_started","callId":"call-9","chatId":"c2","direction":"incoming"}`),
	})
	if len(tl.msgs) != 0 {
		t.Fatal("call_started wrote a message before the outcome")
	}

	// The end frame omits chat and direction; both come from the start.
	br.HandleFrame(models.Frame{
		Event: models.EventCallEnded,
		Raw:   []byte(`{"event":"call_ended","callId":"call-9","status":"missed"}`),
	})
	if len(tl.msgs) != 1 {
		t.Fatalf("%d messages, want 1", len(tl.msgs))
	}
	m := tl.msgs[0]
	if m.ConversationID != "c2" || m.Call.Direction != models.CallIncoming {
		t.Fatalf("message %+v did not inherit start-frame fields", m)
	}
	if m.Call.Status != models.CallMissed {
		t.Fatalf("status %s, want missed", m.Call.Status)
	}
}

func TestStartCallSendsSignalingFrame(t *testing.T) {
	tl := &recordingTimeline{}
	socket := &fakeSocket{}
	br := NewBridge(tl, socket, bus.New(), nil)

	callID, err := br.StartCall("c3")
	if err != nil {
		t.Fatalf("StartCall: %v", err)
	}
	if callID == "" {
		t.Fatal("empty call ID")
	}
	if len(socket.frames) != 1 {
		t.Fatalf("%d frames sent, want 1", len(socket.frames))
	}
	frame := socket.frames[0].(map[string]any)
	if frame["event"] != "call_start" || frame["chatId"] != "c3" {
		t.Fatalf("frame %+v", frame)
	}

	// The eventual end frame inherits the outgoing direction from the start.
	br.HandleFrame(models.Frame{
		Event: models.EventCallEnded,
		Raw:   []byte(`{"event":"call_ended","callId":"` + callID + `","chatId":"c3","status":"canceled"}`),
	})
	if len(tl.msgs) != 1 || tl.msgs[0].Call.Direction != models.CallOutgoing {
		t.Fatalf("call card %+v", tl.msgs)
	}
}

func TestStartCallFailsWithoutSocket(t *testing.T) {
	socket := &fakeSocket{err: errors.New("not connected")}
	br := NewBridge(&recordingTimeline{}, socket, bus.New(), nil)

	if _, err := br.StartCall("c1"); err == nil {
		t.Fatal("StartCall succeeded with a dead socket")
	}
}

func TestFrameEndThenHostReportDedups(t *testing.T) {
	tl := &recordingTimeline{}
	br := NewBridge(tl, &fakeSocket{}, bus.New(), nil)

	br.HandleFrame(models.Frame{
		Event: models.EventCallEnded,
		Raw:   []byte(`{"event":"call_ended","callId":"call-5","chatId":"c1","status":"ended","duration":83}`),
	})
	err := br.Record("c1", models.CallDetail{CallID: "call-5", Status: models.CallEnded, Duration: 83})
	if !errors.Is(err, ErrDuplicateReport) {
		t.Fatalf("host report after frame: %v, want ErrDuplicateReport", err)
	}
	if len(tl.msgs) != 1 {
		t.Fatalf("%d messages, want 1", len(tl.msgs))
	}
}
