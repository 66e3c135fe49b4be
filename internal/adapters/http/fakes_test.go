package httpadapter

import (
	"context"
	"io"
	"net/http"

	"github.com/rayanical/dining-bot-publish/internal/config"
	"github.com/rayanical/dining-bot-publish/internal/core/catalog"
	"github.com/rayanical/dining-bot-publish/internal/core/domain"
	"github.com/rayanical/dining-bot-publish/internal/core/ports"
)

type fakeAnswerStream struct {
	result *domain.RetrievalResult
	chunks []string
	err    error
	closed bool
}

func (s *fakeAnswerStream) Result() *domain.RetrievalResult { return s.result }

func (s *fakeAnswerStream) Next(context.Context) (string, error) {
	if len(s.chunks) == 0 {
		if s.err != nil {
			return "", s.err
		}
		return "", io.EOF
	}
	chunk := s.chunks[0]
	s.chunks = s.chunks[1:]
	return chunk, nil
}

func (s *fakeAnswerStream) Close() error {
	s.closed = true
	return nil
}

type fakeChatService struct {
	stream *fakeAnswerStream
	err    error
	got    domain.ChatRequest
}

func (f *fakeChatService) Answer(_ context.Context, req domain.ChatRequest) (ports.AnswerStream, error) {
	f.got = req
	if f.err != nil {
		return nil, f.err
	}
	return f.stream, nil
}

func (f *fakeChatService) Retrieve(_ context.Context, req domain.ChatRequest) (*domain.RetrievalResult, error) {
	f.got = req
	if f.err != nil {
		return nil, f.err
	}
	return f.stream.result, nil
}

type fakeCatalogService struct {
	info   catalog.Info
	queued bool
	err    error
}

func (f *fakeCatalogService) Refresh(context.Context) (catalog.Info, error) {
	return f.info, f.err
}

func (f *fakeCatalogService) RequestRefresh(context.Context) (bool, catalog.Info, error) {
	return f.queued, f.info, f.err
}

func (f *fakeCatalogService) Info() catalog.Info { return f.info }

type fakeIngestService struct {
	items  []domain.MenuItem
	result domain.IngestResult
	err    error
}

func (f *fakeIngestService) Ingest(_ context.Context, items []domain.MenuItem) (domain.IngestResult, error) {
	f.items = items
	if f.err != nil {
		return domain.IngestResult{}, f.err
	}
	return f.result, nil
}

func newTestHandler(cfg config.Config, chat *fakeChatService) http.Handler {
	if chat == nil {
		chat = &fakeChatService{stream: &fakeAnswerStream{result: &domain.RetrievalResult{}}}
	}
	return NewRouter(cfg, chat, &fakeCatalogService{info: catalog.Info{Generation: 3}}, &fakeIngestService{}, nil).Handler()
}
