package daemon_test

import (
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/loopbackai/agentd/citest/testutil"
	"github.com/loopbackai/agentd/pkg/types"
)

// recvUntil drains sub.Events into kinds (in arrival order) until one with
// event kind stopAt arrives, or deadline elapses. It always returns what it
// has collected so far, including stopAt's own event if it was seen.
func recvUntil(sub *testutil.Subscription, stopAt types.EventKind, deadline time.Duration) []types.Envelope {
	var got []types.Envelope
	timeout := time.After(deadline)
	for {
		select {
		case env, ok := <-sub.Events:
			if !ok {
				return got
			}
			got = append(got, env)
			if env.Event == stopAt {
				return got
			}
		case <-timeout:
			return got
		}
	}
}

func kinds(envs []types.Envelope) []types.EventKind {
	out := make([]types.EventKind, len(envs))
	for i, e := range envs {
		out[i] = e.Event
	}
	return out
}

var _ = Describe("Happy turn", func() {
	It("delivers session.snapshot, turn.queued, turn.start, turn.token*, turn.done, session.updated in order", func() {
		d := testutil.StartDaemon(GinkgoT(), &testutil.FakeDriver{TokenDelay: 5 * time.Millisecond})

		var created map[string]any
		status, err := d.Post("/v3/sessions/", map[string]any{"id": "sess-e2e-1", "model": "m-default"}, &created)
		Expect(err).NotTo(HaveOccurred())
		Expect(status).To(Equal(200))

		sub := d.Subscribe(GinkgoT(), "sess-e2e-1", 0)

		var turnResp map[string]any
		status, err = d.Post("/v3/sessions/sess-e2e-1/turns", map[string]any{
			"clientId": "c", "writerId": "w", "content": "hi", "mode": "chat",
		}, &turnResp)
		Expect(err).NotTo(HaveOccurred())
		Expect(status).To(Equal(202))

		envs := recvUntil(sub, types.EventSessionUpdated, 2*time.Second)
		got := kinds(envs)

		Expect(got).To(ContainElements(
			types.EventSessionSnapshot,
			types.EventTurnQueued,
			types.EventTurnStart,
			types.EventTurnToken,
			types.EventTurnDone,
			types.EventSessionUpdated,
		))

		// session.snapshot must precede turn.queued, which must precede
		// turn.start, which must precede every turn.token, which must all
		// precede turn.done, which must precede session.updated.
		idx := func(k types.EventKind) int {
			for i, e := range got {
				if e == k {
					return i
				}
			}
			return -1
		}
		lastTokenIdx := -1
		for i, e := range got {
			if e == types.EventTurnToken {
				lastTokenIdx = i
			}
		}

		Expect(idx(types.EventSessionSnapshot)).To(BeNumerically("<", idx(types.EventTurnQueued)))
		Expect(idx(types.EventTurnQueued)).To(BeNumerically("<", idx(types.EventTurnStart)))
		Expect(idx(types.EventTurnStart)).To(BeNumerically("<", lastTokenIdx))
		Expect(lastTokenIdx).To(BeNumerically("<", idx(types.EventTurnDone)))
		Expect(idx(types.EventTurnDone)).To(BeNumerically("<", idx(types.EventSessionUpdated)))

		for _, e := range envs {
			if e.Event == types.EventTurnDone {
				payload, ok := e.Payload.(map[string]any)
				Expect(ok).To(BeTrue())
				latency, present := payload["firstTokenLatencyMs"]
				Expect(present).To(BeTrue())
				if latency != nil {
					Expect(latency.(float64)).To(BeNumerically(">=", 0))
				}
			}
		}
	})
})

var _ = Describe("Reconnect replay", func() {
	It("delivers a backlog larger than the WS send buffer without deadlocking", func() {
		d := testutil.StartDaemon(GinkgoT(), &testutil.FakeDriver{TokenDelay: time.Millisecond})

		_, err := d.Post("/v3/sessions/", map[string]any{"id": "sess-e2e-4", "model": "m-default"}, nil)
		Expect(err).NotTo(HaveOccurred())

		// Each turn persists turn.queued, turn.start, turn.done and
		// session.updated: 4 events (turn.token is ephemeral and never
		// reaches the log). 70 turns plus the initial session.snapshot make
		// 281 persisted events, clearing the 256-capacity send buffer
		// before any subscriber ever connects.
		const turns = 70
		for i := 0; i < turns; i++ {
			status, err := d.Post("/v3/sessions/sess-e2e-4/turns", map[string]any{
				"clientId": "c", "writerId": "w", "content": "hi", "mode": "chat",
			}, nil)
			Expect(err).NotTo(HaveOccurred())
			Expect(status).To(Equal(202))
		}

		// Drain with no subscriber attached yet, so every event above lands
		// only in the durable log until the late subscribe below.
		Eventually(func() int {
			var body map[string]any
			_, err := d.Get("/v3/sessions/sess-e2e-4/events?after=0", &body)
			Expect(err).NotTo(HaveOccurred())
			events, _ := body["events"].([]any)
			return len(events)
		}, 5*time.Second, 20*time.Millisecond).Should(BeNumerically(">", 256))

		sub := d.Subscribe(GinkgoT(), "sess-e2e-4", 0)
		envs := recvUntil(sub, types.EventKind("__never__"), 3*time.Second)
		Expect(len(envs)).To(BeNumerically(">", 256), "the full backlog must be delivered, not wedged at the send buffer's capacity")
	})
})

var _ = Describe("Cooperative cancel", func() {
	It("cancels the active turn within 500ms and lets the queued turn proceed", func() {
		d := testutil.StartDaemon(GinkgoT(), &testutil.FakeDriver{
			Tokens:     []string{"a", "b"},
			TokenDelay: 150 * time.Millisecond,
		})

		_, err := d.Post("/v3/sessions/", map[string]any{"id": "sess-e2e-3", "model": "m-default"}, nil)
		Expect(err).NotTo(HaveOccurred())

		sub := d.Subscribe(GinkgoT(), "sess-e2e-3", 0)

		status, err := d.Post("/v3/sessions/sess-e2e-3/turns", map[string]any{
			"id": "t1", "clientId": "c", "writerId": "w1", "content": "slow", "mode": "chat",
		}, nil)
		Expect(err).NotTo(HaveOccurred())
		Expect(status).To(Equal(202))

		startSeen := recvUntil(sub, types.EventTurnStart, time.Second)
		Expect(kinds(startSeen)).To(ContainElement(types.EventTurnStart))

		status, err = d.Post("/v3/sessions/sess-e2e-3/turns", map[string]any{
			"id": "t2", "clientId": "c", "writerId": "w2", "content": "queued", "mode": "chat",
		}, nil)
		Expect(err).NotTo(HaveOccurred())
		Expect(status).To(Equal(202))

		var cancelResp map[string]int
		cancelStart := time.Now()
		status, err = d.Post("/v3/sessions/sess-e2e-3/cancel", map[string]any{"turnId": "t1"}, &cancelResp)
		Expect(err).NotTo(HaveOccurred())
		Expect(status).To(Equal(200))
		Expect(cancelResp["cancelled"]).To(Equal(1))

		cancelEnvs := recvUntil(sub, types.EventTurnError, 500*time.Millisecond)
		Expect(time.Since(cancelStart)).To(BeNumerically("<", 500*time.Millisecond))

		var errEnv *types.Envelope
		for i := range cancelEnvs {
			if cancelEnvs[i].Event == types.EventTurnError {
				errEnv = &cancelEnvs[i]
			}
		}
		Expect(errEnv).NotTo(BeNil())
		payload, ok := errEnv.Payload.(map[string]any)
		Expect(ok).To(BeTrue())
		Expect(payload["message"]).To(Equal("Turn cancelled"))
		_, hasCode := payload["code"]
		Expect(hasCode).To(BeFalse())

		doneEnvs := recvUntil(sub, types.EventTurnDone, 2*time.Second)
		Expect(kinds(doneEnvs)).To(ContainElement(types.EventTurnDone))
	})
})
