package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	checkpointmemory "github.com/finquery/finquery/internal/checkpoint/memory"
	"github.com/finquery/finquery/internal/store"
)

type fakeStore struct {
	mu       sync.Mutex
	schemas  map[string][]store.Column
	result   store.Result
	execErr  error
	executed []string
}

func (f *fakeStore) Schema(_ context.Context, table string) ([]store.Column, error) {
	columns, ok := f.schemas[table]
	if !ok {
		return nil, fmt.Errorf("describe %q: %w", table, store.ErrTableNotFound)
	}
	return columns, nil
}

func (f *fakeStore) Execute(_ context.Context, sqlText string) (store.Result, error) {
	f.mu.Lock()
	f.executed = append(f.executed, sqlText)
	f.mu.Unlock()
	if f.execErr != nil {
		return store.Result{}, f.execErr
	}
	return f.result, nil
}

func (f *fakeStore) Tables(context.Context) ([]string, error) {
	tables := make([]string, 0, len(f.schemas))
	for table := range f.schemas {
		tables = append(tables, table)
	}
	return tables, nil
}

func (f *fakeStore) HealthCheck(context.Context) error { return nil }

func newFakeStore() *fakeStore {
	return &fakeStore{
		schemas: map[string][]store.Column{
			ClientsTable: {
				{Name: "client_name", Type: "VARCHAR"},
				{Name: "age", Type: "BIGINT"},
			},
			AllocationsTable: {
				{Name: "client_name", Type: "VARCHAR"},
				{Name: "target_allocation_", Type: "DOUBLE"},
			},
		},
		result: store.Result{
			Columns: []string{"avg_allocation"},
			Records: []store.Record{{"avg_allocation": 50.0}},
		},
	}
}

type fakeGenerator struct {
	mu      sync.Mutex
	prompts []string
	sqlText string
	answer  string
	err     error
}

func (f *fakeGenerator) Generate(_ context.Context, prompt string) (string, error) {
	f.mu.Lock()
	f.prompts = append(f.prompts, prompt)
	f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	if strings.Contains(prompt, "Return only the sql query") {
		return f.sqlText, nil
	}
	return f.answer, nil
}

func newPipeline(t *testing.T, deps Dependencies) *Pipeline {
	t.Helper()
	p, err := New(deps)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return p
}

func TestRejectionPathProducesExactlyTheFixedMessage(t *testing.T) {
	gen := &fakeGenerator{}
	p := newPipeline(t, Dependencies{
		Store:         newFakeStore(),
		Generator:     gen,
		SubjectGrader: FixedClassifier{Verdict: VerdictNo},
	})

	result, err := p.Run(context.Background(), "Who won the world cup?", "thread-1")
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if result.TextAnswer != RejectionMessage {
		t.Fatalf("TextAnswer = %q", result.TextAnswer)
	}
	if result.Query != "" || result.Data != nil {
		t.Fatalf("rejection result carries query/data: %#v", result)
	}
	if len(gen.prompts) != 0 {
		t.Fatalf("rejection path invoked generation %d times", len(gen.prompts))
	}
}

func TestFinancialPathPopulatesQueryDataAndAnswer(t *testing.T) {
	st := newFakeStore()
	gen := &fakeGenerator{
		sqlText: "```sql\nSELECT AVG(target_allocation_) AS avg_allocation\nFROM client_target_allocations\nWHERE client_name ILIKE 'John Smith'\n```",
		answer:  "John Smith's average target allocation is 50%.",
	}
	p := newPipeline(t, Dependencies{Store: st, Generator: gen})

	result, err := p.Run(context.Background(), "What is the average target allocation for client John Smith?", "thread-1")
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if !strings.Contains(result.Query, "ILIKE") {
		t.Fatalf("Query = %q, want ILIKE predicate", result.Query)
	}
	if strings.ContainsRune(result.Query, '\n') {
		t.Fatalf("Query = %q still contains newlines", result.Query)
	}
	if len(result.Data) == 0 {
		t.Fatal("Data is empty")
	}
	if result.TextAnswer == "" {
		t.Fatal("TextAnswer is empty")
	}
	if len(st.executed) != 1 || st.executed[0] != result.Query {
		t.Fatalf("executed = %#v", st.executed)
	}

	// The SQL prompt must be grounded on both live schemas.
	sqlPrompt := gen.prompts[0]
	for _, fragment := range []string{"TABLE " + ClientsTable, "TABLE " + AllocationsTable, "client_name VARCHAR", "target_allocation_ DOUBLE"} {
		if !strings.Contains(sqlPrompt, fragment) {
			t.Fatalf("sql prompt is missing %q:\n%s", fragment, sqlPrompt)
		}
	}
	answerPrompt := gen.prompts[1]
	if !strings.Contains(answerPrompt, "avg_allocation") {
		t.Fatalf("answer prompt is missing query data:\n%s", answerPrompt)
	}
}

func TestEmptyExtractionShortCircuitsToNotUnderstood(t *testing.T) {
	st := newFakeStore()
	gen := &fakeGenerator{sqlText: "   "}
	p := newPipeline(t, Dependencies{Store: st, Generator: gen})

	result, err := p.Run(context.Background(), "question", "thread-1")
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if result.TextAnswer != NotUnderstoodMessage {
		t.Fatalf("TextAnswer = %q", result.TextAnswer)
	}
	if len(st.executed) != 0 {
		t.Fatalf("query was executed despite empty extraction: %#v", st.executed)
	}
}

func TestNonSelectStatementIsRejectedBeforeExecution(t *testing.T) {
	st := newFakeStore()
	gen := &fakeGenerator{sqlText: "DROP TABLE financial_advisor_clients"}
	p := newPipeline(t, Dependencies{Store: st, Generator: gen})

	_, err := p.Run(context.Background(), "question", "thread-1")
	if !errors.Is(err, ErrQueryRejected) {
		t.Fatalf("Run() error = %v, want ErrQueryRejected", err)
	}
	if len(st.executed) != 0 {
		t.Fatalf("rejected query reached the store: %#v", st.executed)
	}
}

func TestMultiStatementQueryIsRejected(t *testing.T) {
	st := newFakeStore()
	gen := &fakeGenerator{sqlText: "SELECT 1; DROP TABLE financial_advisor_clients"}
	p := newPipeline(t, Dependencies{Store: st, Generator: gen})

	if _, err := p.Run(context.Background(), "question", "thread-1"); !errors.Is(err, ErrQueryRejected) {
		t.Fatalf("Run() error = %v, want ErrQueryRejected", err)
	}
}

func TestQueryExecutionFailureWrapsErrQueryFailed(t *testing.T) {
	st := newFakeStore()
	st.execErr = errors.New("Binder Error: column \"nope\" not found")
	gen := &fakeGenerator{sqlText: "SELECT nope FROM financial_advisor_clients"}
	p := newPipeline(t, Dependencies{Store: st, Generator: gen})

	_, err := p.Run(context.Background(), "question", "thread-1")
	if !errors.Is(err, ErrQueryFailed) {
		t.Fatalf("Run() error = %v, want ErrQueryFailed", err)
	}
}

func TestMissingTableSurfacesStoreNotInitialized(t *testing.T) {
	st := newFakeStore()
	delete(st.schemas, AllocationsTable)
	gen := &fakeGenerator{sqlText: "SELECT 1"}
	p := newPipeline(t, Dependencies{Store: st, Generator: gen})

	if _, err := p.Run(context.Background(), "question", "thread-1"); !errors.Is(err, ErrStoreNotInitialized) {
		t.Fatalf("Run() error = %v, want ErrStoreNotInitialized", err)
	}
}

func TestSubjectClassifierErrorFailsClosed(t *testing.T) {
	gen := &fakeGenerator{err: errors.New("provider down")}
	p := newPipeline(t, Dependencies{
		Store:         newFakeStore(),
		Generator:     gen,
		SubjectGrader: &SubjectClassifier{Generator: gen},
	})

	result, err := p.Run(context.Background(), "question", "thread-1")
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if result.TextAnswer != RejectionMessage {
		t.Fatalf("TextAnswer = %q, want rejection", result.TextAnswer)
	}
}

func TestUnparseableSubjectVerdictFailsClosed(t *testing.T) {
	gen := &fakeGenerator{answer: "that is hard to say"}
	p := newPipeline(t, Dependencies{
		Store:         newFakeStore(),
		Generator:     gen,
		SubjectGrader: &SubjectClassifier{Generator: gen},
	})

	result, err := p.Run(context.Background(), "question", "thread-1")
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if result.TextAnswer != RejectionMessage {
		t.Fatalf("TextAnswer = %q, want rejection", result.TextAnswer)
	}
}

func TestTerminalCheckpointIsSavedPerThread(t *testing.T) {
	checkpoints := checkpointmemory.NewStore()
	gen := &fakeGenerator{sqlText: "SELECT 1", answer: "done"}
	p := newPipeline(t, Dependencies{
		Store:       newFakeStore(),
		Generator:   gen,
		Checkpoints: checkpoints,
	})

	if _, err := p.Run(context.Background(), "question one", "thread-a"); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	cp, err := checkpoints.Latest(context.Background(), "thread-a")
	if err != nil {
		t.Fatalf("Latest() error = %v", err)
	}
	if cp.Outcome != OutcomeAnswered {
		t.Fatalf("Outcome = %q", cp.Outcome)
	}
	if cp.Question != "question one" {
		t.Fatalf("Question = %q", cp.Question)
	}
	if cp.Query != "SELECT 1" {
		t.Fatalf("Query = %q", cp.Query)
	}
}

func TestConcurrentRunsWithDistinctThreadsAreIsolated(t *testing.T) {
	checkpoints := checkpointmemory.NewStore()
	gen := &fakeGenerator{sqlText: "SELECT 1", answer: "answer"}
	p := newPipeline(t, Dependencies{
		Store:       newFakeStore(),
		Generator:   gen,
		Checkpoints: checkpoints,
	})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			thread := fmt.Sprintf("thread-%d", i)
			question := fmt.Sprintf("question %d", i)
			if _, err := p.Run(context.Background(), question, thread); err != nil {
				t.Errorf("Run(%q) error = %v", thread, err)
			}
		}(i)
	}
	wg.Wait()

	for i := 0; i < 8; i++ {
		thread := fmt.Sprintf("thread-%d", i)
		cp, err := checkpoints.Latest(context.Background(), thread)
		if err != nil {
			t.Fatalf("Latest(%q) error = %v", thread, err)
		}
		if cp.Question != fmt.Sprintf("question %d", i) {
			t.Fatalf("thread %q observed question %q", thread, cp.Question)
		}
	}
}

func TestClassifierFromMode(t *testing.T) {
	gen := &fakeGenerator{}

	classifier, err := ClassifierFromMode("llm", gen)
	if err != nil {
		t.Fatalf("ClassifierFromMode(llm) error = %v", err)
	}
	if _, ok := classifier.(*SubjectClassifier); !ok {
		t.Fatalf("classifier = %T", classifier)
	}

	classifier, err = ClassifierFromMode("fixed:no", nil)
	if err != nil {
		t.Fatalf("ClassifierFromMode(fixed:no) error = %v", err)
	}
	if verdict, _ := classifier.Classify(context.Background(), "q"); verdict != VerdictNo {
		t.Fatalf("verdict = %v", verdict)
	}

	if _, err := ClassifierFromMode("coinflip", nil); err == nil {
		t.Fatal("unknown mode should fail")
	}
	if _, err := ClassifierFromMode("llm", nil); err == nil {
		t.Fatal("llm mode without generator should fail")
	}
}
