package services

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	apperrors "github.com/aihub/docqa-go/internal/errors"
	"github.com/aihub/docqa-go/internal/kafka"
)

// recordingPublisher 记录发布的事件
type recordingPublisher struct {
	mu     sync.Mutex
	events []*kafka.SessionEvent
	err    error
}

func (p *recordingPublisher) PublishSessionRecorded(ctx context.Context, event *kafka.SessionEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return p.err
}

func TestQueryService_Run_ExclusionScenario(t *testing.T) {
	var prompts []string
	generator := new(MockGenerator)
	generator.On("Generate", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) { prompts = append(prompts, args.String(1)) }).
		Return("Pre-existing conditions are excluded for 24 months.", nil)

	docs, sessions := newMemDocumentRepo(), &memSessionRepo{}
	svc, index := newTestPipeline(generator, docs, sessions, mapFetcher{"policy.txt": []byte(insuranceDocument)})
	publisher := &recordingPublisher{}
	svc.publisher = publisher

	resp, err := svc.Run(context.Background(), &QueryRequest{
		Documents: "policy.txt",
		Questions: []string{"What is excluded?"},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"Pre-existing conditions are excluded for 24 months."}, resp.Answers)
	assert.NotEmpty(t, resp.RequestID)
	assert.Equal(t, uint(1), resp.DocumentID)
	assert.Positive(t, index.Size())

	require.Len(t, prompts, 1)
	assert.Contains(t, prompts[0], "Section: Exclusions")
	assert.Contains(t, prompts[0], "Pre-existing conditions are excluded for the first 24 months.")

	require.Len(t, sessions.sessions, 1)
	assert.Equal(t, []string{"What is excluded?"}, sessions.sessions[0].Questions)
	assert.Equal(t, resp.Answers, sessions.sessions[0].Answers)

	require.Len(t, publisher.events, 1)
	assert.Equal(t, resp.DocumentID, publisher.events[0].DocumentID)
	assert.Equal(t, 1, publisher.events[0].Questions)
}

func TestQueryService_Run_SameLengthWithGenerationFailures(t *testing.T) {
	generator := new(MockGenerator)
	generator.On("Generate", mock.Anything, mock.MatchedBy(func(p string) bool {
		return strings.Contains(p, "QUESTION:\nWhat is covered?")
	})).Return("", errors.New("upstream timeout"))
	generator.On("Generate", mock.Anything, mock.Anything).Return("24 months.", nil)

	svc, _ := newTestPipeline(generator, newMemDocumentRepo(), &memSessionRepo{}, mapFetcher{"policy.txt": []byte(insuranceDocument)})
	svc.publisher = &recordingPublisher{err: errors.New("broker down")}

	questions := []string{"What is excluded?", "What is covered?", "How long is the exclusion?"}
	resp, err := svc.Run(context.Background(), &QueryRequest{Documents: "policy.txt", Questions: questions})
	require.NoError(t, err, "publish failures do not fail the request")

	require.Len(t, resp.Answers, len(questions))
	assert.Equal(t, "24 months.", resp.Answers[0])
	assert.Equal(t, "The language model could not process this request. Reason: upstream timeout", resp.Answers[1])
	assert.Equal(t, "24 months.", resp.Answers[2])
}

func TestQueryService_Run_Validation(t *testing.T) {
	svc, _ := newTestPipeline(new(MockGenerator), newMemDocumentRepo(), &memSessionRepo{}, mapFetcher{})
	ctx := context.Background()

	tests := []struct {
		name string
		req  *QueryRequest
	}{
		{"nil request", nil},
		{"missing documents", &QueryRequest{Questions: []string{"q"}}},
		{"no questions", &QueryRequest{Documents: "policy.txt"}},
		{"empty question", &QueryRequest{Documents: "policy.txt", Questions: []string{"q", ""}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Run(ctx, tt.req)
			assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeValidationFailed), "got %v", err)
		})
	}
}

func TestQueryService_Run_FatalFailures(t *testing.T) {
	ctx := context.Background()

	t.Run("missing document", func(t *testing.T) {
		svc, _ := newTestPipeline(new(MockGenerator), newMemDocumentRepo(), &memSessionRepo{}, mapFetcher{})
		_, err := svc.Run(ctx, &QueryRequest{Documents: "missing", Questions: []string{"q"}})
		assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeResourceNotFound))
	})

	t.Run("unsupported format", func(t *testing.T) {
		svc, _ := newTestPipeline(new(MockGenerator), newMemDocumentRepo(), &memSessionRepo{},
			mapFetcher{"image.png": {0x89, 'P', 'N', 'G'}})
		_, err := svc.Run(ctx, &QueryRequest{Documents: "image.png", Questions: []string{"q"}})
		assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeExtractionFailed))
	})

	t.Run("session write rejected", func(t *testing.T) {
		generator := new(MockGenerator)
		generator.On("Generate", mock.Anything, mock.Anything).Return("answer", nil)
		sessions := &memSessionRepo{createErr: errors.New("connection reset")}
		svc, _ := newTestPipeline(generator, newMemDocumentRepo(), sessions, mapFetcher{"policy.txt": []byte(insuranceDocument)})

		resp, err := svc.Run(ctx, &QueryRequest{Documents: "policy.txt", Questions: []string{"q"}})
		assert.Nil(t, resp)
		assert.True(t, apperrors.IsCode(err, apperrors.ErrCodePersistenceFailed))
	})
}

func TestQueryService_Run_ConcurrentIdenticalDocuments(t *testing.T) {
	generator := new(MockGenerator)
	generator.On("Generate", mock.Anything, mock.Anything).Return("answer", nil)

	docs := newMemDocumentRepo()
	fetcher := mapFetcher{
		"a.txt": []byte(insuranceDocument),
		"b.txt": []byte(insuranceDocument),
	}
	svc, _ := newTestPipeline(generator, docs, &memSessionRepo{}, fetcher)

	var wg sync.WaitGroup
	ids := make([]uint, 2)
	for i, source := range []string{"a.txt", "b.txt"} {
		wg.Add(1)
		go func(i int, source string) {
			defer wg.Done()
			resp, err := svc.Run(context.Background(), &QueryRequest{Documents: source, Questions: []string{"What is excluded?"}})
			if assert.NoError(t, err) {
				ids[i] = resp.DocumentID
			}
		}(i, source)
	}
	wg.Wait()

	count, err := docs.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
	assert.Equal(t, ids[0], ids[1])
}

func TestQueryService_Run_KnownDocumentSkipsExtraction(t *testing.T) {
	generator := new(MockGenerator)
	generator.On("Generate", mock.Anything, mock.Anything).Return("answer", nil)

	docs := newMemDocumentRepo()
	svc, _ := newTestPipeline(generator, docs, &memSessionRepo{}, mapFetcher{"policy.txt": []byte(insuranceDocument)})
	ctx := context.Background()

	first, err := svc.Run(ctx, &QueryRequest{Documents: "policy.txt", Questions: []string{"q1"}})
	require.NoError(t, err)
	second, err := svc.Run(ctx, &QueryRequest{Documents: "policy.txt", Questions: []string{"q2"}})
	require.NoError(t, err)

	assert.Equal(t, first.DocumentID, second.DocumentID)
	assert.Equal(t, 1, docs.creates)

	sessions, err := svc.Sessions(ctx, first.DocumentID, 0)
	require.NoError(t, err)
	require.Len(t, sessions, 2)
	assert.Equal(t, []string{"q2"}, sessions[0].Questions)

	stats, err := svc.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.Documents)
	assert.Equal(t, int64(2), stats.Sessions)
	assert.Equal(t, 3, stats.IndexSize)
	assert.NotEmpty(t, stats.IndexFingerprint)
	assert.Equal(t, "mock-model", stats.Model)
	assert.True(t, stats.GeneratorReady)
}
