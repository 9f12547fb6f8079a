package lore

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

func TestEngineDirectFinishWithoutFragments(t *testing.T) {
	// The index is empty and the LLM never asks to search, so the answer
	// must be the fixed insufficient-context text, not an LLM generation.
	provider := &mockProvider{responses: []ChatResponse{
		{Content: "I can answer directly"},
	}}
	engine := NewEngine(provider, registryWith(&mockSearchTool{}))

	st := NewState("conv-1", "", nil, "what is in the contract?")
	if err := engine.Run(context.Background(), st); err != nil {
		t.Fatal(err)
	}
	if st.Answer != InsufficientContextAnswer {
		t.Errorf("Answer = %q, want insufficient-context answer", st.Answer)
	}
	// Exactly one LLM call (think). Synthesize must not have called it.
	if provider.calls != 1 {
		t.Errorf("LLM calls = %d, want 1", provider.calls)
	}
	last := st.Messages[len(st.Messages)-1]
	if last.Role != "assistant" || last.Content != InsufficientContextAnswer {
		t.Errorf("final message = %+v, want assistant insufficient-context", last)
	}
}

func TestEngineSearchForwardsArgsAndFragments(t *testing.T) {
	// The tool must be invoked with exactly the LLM-requested arguments
	// and fragments forwarded unmodified.
	tool := &mockSearchTool{fragments: []string{"frag one", "frag two"}}
	provider := &mockProvider{responses: []ChatResponse{
		searchCall("call-1", `{"query":"X","top_k":3}`),
		{Content: "done"},                // second think: finish
		{Content: "grounded answer"},     // synthesize
	}}
	engine := NewEngine(provider, registryWith(tool))

	st := NewState("conv-1", "", nil, "question about X")
	if err := engine.Run(context.Background(), st); err != nil {
		t.Fatal(err)
	}

	if len(tool.gotArgs) != 1 {
		t.Fatalf("tool invocations = %d, want 1", len(tool.gotArgs))
	}
	var args searchArgs
	if err := json.Unmarshal(tool.gotArgs[0], &args); err != nil {
		t.Fatal(err)
	}
	if args.Query != "X" || args.TopK != 3 {
		t.Errorf("args = %+v, want query X top_k 3", args)
	}
	if len(st.Fragments) != 2 || st.Fragments[0] != "frag one" || st.Fragments[1] != "frag two" {
		t.Errorf("Fragments = %v, want unmodified tool fragments", st.Fragments)
	}
	if st.Answer != "grounded answer" {
		t.Errorf("Answer = %q", st.Answer)
	}
}

func TestEngineSearchArgumentFallbacks(t *testing.T) {
	tool := &mockSearchTool{fragments: []string{"f"}}
	provider := &mockProvider{responses: []ChatResponse{
		searchCall("call-1", `{}`), // LLM omitted everything
		{Content: "done"},
		{Content: "answer"},
	}}
	engine := NewEngine(provider, registryWith(tool), WithTopK(7))

	st := NewState("conv-1", "doc-9", nil, "the user question")
	if err := engine.Run(context.Background(), st); err != nil {
		t.Fatal(err)
	}

	var args searchArgs
	if err := json.Unmarshal(tool.gotArgs[0], &args); err != nil {
		t.Fatal(err)
	}
	if args.Query != "the user question" {
		t.Errorf("fallback query = %q, want last user message", args.Query)
	}
	if args.TopK != 7 {
		t.Errorf("fallback top_k = %d, want 7", args.TopK)
	}
	if args.DocumentUID != "doc-9" {
		t.Errorf("fallback document_uid = %q, want doc-9", args.DocumentUID)
	}
}

func TestEngineToolErrorBecomesObservation(t *testing.T) {
	// A tool failure is converted into an error observation and the loop
	// continues instead of aborting the turn.
	tool := &mockSearchTool{err: errors.New("index unavailable")}
	provider := &mockProvider{responses: []ChatResponse{
		searchCall("call-1", `{"query":"X"}`),
		{Content: "ok, stopping"}, // think after the failed search
		{Content: "answer"},       // never used: no fragments
	}}
	engine := NewEngine(provider, registryWith(tool))

	st := NewState("conv-1", "", nil, "q")
	if err := engine.Run(context.Background(), st); err != nil {
		t.Fatalf("tool error must not fail the run: %v", err)
	}

	var toolMsg *ChatMessage
	for i := range st.Messages {
		if st.Messages[i].Role == "tool" {
			toolMsg = &st.Messages[i]
		}
	}
	if toolMsg == nil {
		t.Fatal("no tool-result message appended")
	}
	if !strings.Contains(toolMsg.Content, "index unavailable") {
		t.Errorf("tool observation = %q, want error description", toolMsg.Content)
	}
	if toolMsg.ToolCallID != "call-1" {
		t.Errorf("ToolCallID = %q, want call-1", toolMsg.ToolCallID)
	}
	// Failed search means no fragments: fixed answer.
	if st.Answer != InsufficientContextAnswer {
		t.Errorf("Answer = %q, want insufficient-context answer", st.Answer)
	}
}

func TestEngineIterationCeilingForcesSynthesis(t *testing.T) {
	// The LLM always wants another search; after max_iterations the judge
	// forces finish and synthesize runs with what exists.
	tool := &mockSearchTool{fragments: []string{"the only fragment"}}
	provider := &mockProvider{responses: []ChatResponse{
		searchCall("call-1", `{"query":"more"}`), // replayed forever
	}}
	engine := NewEngine(provider, registryWith(tool), WithMaxIterations(1))

	st := NewState("conv-1", "", nil, "q")
	if err := engine.Run(context.Background(), st); err != nil {
		t.Fatal(err)
	}
	if st.Iteration != 1 {
		t.Errorf("Iteration = %d, want 1", st.Iteration)
	}
	if len(tool.gotArgs) != 1 {
		t.Errorf("tool invocations = %d, want exactly 1", len(tool.gotArgs))
	}
	// Synthesize ran with the fragment from the single allowed cycle. The
	// replayed tool-call response is the synthesize "answer" content ("").
	if st.Answer == InsufficientContextAnswer {
		t.Error("synthesize skipped despite having fragments")
	}
}

func TestEngineIterationNeverExceedsBudget(t *testing.T) {
	for _, budget := range []int{1, 2, 5} {
		tool := &mockSearchTool{fragments: []string{"f"}}
		provider := &mockProvider{responses: []ChatResponse{
			searchCall("call-1", `{"query":"again"}`),
		}}
		engine := NewEngine(provider, registryWith(tool), WithMaxIterations(budget))

		st := NewState("conv-1", "", nil, "q")
		if err := engine.Run(context.Background(), st); err != nil {
			t.Fatal(err)
		}
		if st.Iteration > budget {
			t.Errorf("budget %d: Iteration = %d", budget, st.Iteration)
		}
	}
}

func TestEngineLLMErrorPropagates(t *testing.T) {
	wantErr := errors.New("backend down")
	provider := &mockProvider{err: wantErr}
	engine := NewEngine(provider, registryWith(&mockSearchTool{}))

	st := NewState("conv-1", "", nil, "q")
	err := engine.Run(context.Background(), st)
	if !errors.Is(err, wantErr) {
		t.Fatalf("err = %v, want propagated LLM error", err)
	}
}

func TestEngineGroundingContextTruncated(t *testing.T) {
	long := strings.Repeat("a", 5000)
	tool := &mockSearchTool{fragments: []string{long}}
	provider := &mockProvider{responses: []ChatResponse{
		searchCall("call-1", `{"query":"X"}`),
		{Content: "stop"},
		{Content: "answer"},
	}}
	engine := NewEngine(provider, registryWith(tool), WithMaxContextChars(100))

	st := NewState("conv-1", "", nil, "q")
	if err := engine.Run(context.Background(), st); err != nil {
		t.Fatal(err)
	}

	// The synthesize request is the last one the provider saw. Its final
	// message is the ephemeral grounding prompt.
	synthReq := provider.requests[len(provider.requests)-1]
	prompt := synthReq.Messages[len(synthReq.Messages)-1].Content
	if strings.Count(prompt, "a") > 200 {
		t.Errorf("grounding prompt carries untruncated context (%d runes)", len(prompt))
	}
}

func TestEngineGroundingPromptNotPersisted(t *testing.T) {
	tool := &mockSearchTool{fragments: []string{"frag"}}
	provider := &mockProvider{responses: []ChatResponse{
		searchCall("call-1", `{"query":"X"}`),
		{Content: "stop"},
		{Content: "answer"},
	}}
	engine := NewEngine(provider, registryWith(tool))

	st := NewState("conv-1", "", nil, "q")
	if err := engine.Run(context.Background(), st); err != nil {
		t.Fatal(err)
	}
	for _, m := range st.Messages {
		if m.Role == "user" && strings.Contains(m.Content, "Document content:") {
			t.Error("grounding prompt leaked into durable history")
		}
	}
}

func TestEngineToolCallIDGenerated(t *testing.T) {
	tool := &mockSearchTool{fragments: []string{"f"}}
	provider := &mockProvider{responses: []ChatResponse{
		searchCall("", `{"query":"X"}`), // provider omitted the call ID
		{Content: "stop"},
		{Content: "answer"},
	}}
	engine := NewEngine(provider, registryWith(tool))

	st := NewState("conv-1", "", nil, "q")
	if err := engine.Run(context.Background(), st); err != nil {
		t.Fatal(err)
	}
	for i, m := range st.Messages {
		if m.Role == "assistant" && len(m.ToolCalls) > 0 {
			if m.ToolCalls[0].ID != "call_"+SearchToolName {
				t.Errorf("generated ID = %q", m.ToolCalls[0].ID)
			}
			if st.Messages[i+1].ToolCallID != m.ToolCalls[0].ID {
				t.Error("tool result not linked to generated ID")
			}
		}
	}
}

func TestEngineBlankFragmentsTreatedAsNone(t *testing.T) {
	tool := &mockSearchTool{fragments: []string{"  ", "\n"}}
	provider := &mockProvider{responses: []ChatResponse{
		searchCall("call-1", `{"query":"X"}`),
		{Content: "stop"},
	}}
	engine := NewEngine(provider, registryWith(tool))

	st := NewState("conv-1", "", nil, "q")
	if err := engine.Run(context.Background(), st); err != nil {
		t.Fatal(err)
	}
	if st.Answer != InsufficientContextAnswer {
		t.Errorf("Answer = %q, want insufficient-context for all-blank fragments", st.Answer)
	}
}
