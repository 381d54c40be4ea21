package httpserver

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/arkrank/internal/config"
	"github.com/fairyhunter13/arkrank/internal/domain"
	"github.com/fairyhunter13/arkrank/internal/usecase"
)

type stubCache struct {
	topics map[string]domain.Topic
	pools  map[string][]int32
}

func (s *stubCache) Get(_ domain.Context, id string) (domain.Topic, error) {
	t, ok := s.topics[id]
	if !ok {
		return domain.Topic{}, domain.ErrTargetTopicNotFound
	}
	return t, nil
}

func (s *stubCache) GetCandidatePool(_ domain.Context, id string) ([]int32, error) {
	return s.pools[id], nil
}

func (s *stubCache) ActiveTopicIDs() []string {
	var out []string
	for id, t := range s.topics {
		if t.IsActive {
			out = append(out, id)
		}
	}
	return out
}

func (s *stubCache) AuditTopic(_ domain.Context, id string, _ domain.TopicAuditInfo) (domain.Topic, error) {
	return s.topics[id], nil
}

type stubKV struct {
	domain.KVStore
	challenges map[string]string
}

func (s *stubKV) SetChallenge(_ domain.Context, topicID, ballotID string, left, right int32, _ int) error {
	if s.challenges == nil {
		s.challenges = map[string]string{}
	}
	s.challenges[topicID+":ballot:"+ballotID] = itoa(left) + "," + itoa(right)
	return nil
}

func (s *stubKV) GetDelMany(_ domain.Context, keys []string) ([]*string, error) {
	out := make([]*string, len(keys))
	for i, k := range keys {
		if v, ok := s.challenges[k]; ok {
			vv := v
			out[i] = &vv
			delete(s.challenges, k)
		}
	}
	return out, nil
}

func itoa(v int32) string {
	if v == 0 {
		return "0"
	}
	var digits []byte
	for v > 0 {
		digits = append([]byte{byte('0' + v%10)}, digits...)
		v /= 10
	}
	return string(digits)
}

type stubAgg struct{ submitted []domain.Ballot }

func (s *stubAgg) Submit(b domain.Ballot) error { s.submitted = append(s.submitted, b); return nil }
func (s *stubAgg) QueueDepth() int              { return 0 }

type stubPublisher struct{ subjects []string }

func (s *stubPublisher) Publish(_ domain.Context, subject string, _ []byte, _ map[string]string) error {
	s.subjects = append(s.subjects, subject)
	return nil
}

type stubSnowflake struct{ n int64 }

func (s *stubSnowflake) Next() int64 { s.n++; return s.n }

type stubTopicStore struct {
	domain.TopicStore
	created []domain.Topic
}

func (s *stubTopicStore) CreateTopic(_ domain.Context, t domain.Topic) error {
	s.created = append(s.created, t)
	return nil
}

func (s *stubTopicStore) ListWaitingAudit(_ domain.Context) ([]domain.Topic, error) {
	return nil, nil
}

func newTestServer(t *testing.T) (*Server, *stubKV, *stubAgg) {
	t.Helper()
	now := time.Now()
	cache := &stubCache{
		topics: map[string]domain.Topic{
			"T": {
				ID:        "T",
				TopicType: domain.TopicPairwise,
				IsActive:  true,
				OpenTime:  now.Add(-time.Hour),
				CloseTime: now.Add(time.Hour),
				CreatedAt: now,
			},
		},
		pools: map[string][]int32{"T": {101, 102, 103}},
	}
	kv := &stubKV{}
	agg := &stubAgg{}
	challengeSvc := usecase.NewChallengeService(cache, kv, agg, &stubPublisher{}, &stubSnowflake{}, 86400)
	topicSvc := usecase.NewTopicService(cache, &stubTopicStore{}, domain.NewCatalog(nil))
	resultSvc := usecase.NewResultService(cache, kv, time.Second)
	return NewServer(config.Config{}, challengeSvc, topicSvc, resultSvc), kv, agg
}

func postJSON(t *testing.T, h http.HandlerFunc, body string) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h(rec, req)
	var env envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	return rec, env
}

func TestBallotNewHandler_ReturnsChallenge(t *testing.T) {
	srv, kv, _ := newTestServer(t)

	rec, env := postJSON(t, srv.BallotNewHandler(), `{"topic_id":"T"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 0, env.Status)

	data := env.Data.(map[string]interface{})
	assert.Equal(t, "T", data["topic_id"])
	assert.NotEmpty(t, data["ballot_id"])
	assert.NotEqual(t, data["left"], data["right"])
	assert.Len(t, kv.challenges, 1)
}

func TestBallotNewHandler_UnknownTopic_404Envelope(t *testing.T) {
	srv, _, _ := newTestServer(t)

	rec, env := postJSON(t, srv.BallotNewHandler(), `{"topic_id":"missing"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, 404, env.Status)
	assert.NotEmpty(t, env.Message)
}

func TestBallotSaveHandler_RoundTrip(t *testing.T) {
	srv, _, agg := newTestServer(t)

	_, env := postJSON(t, srv.BallotNewHandler(), `{"topic_id":"T"}`)
	data := env.Data.(map[string]interface{})
	ballotID := data["ballot_id"].(string)
	left := int32(data["left"].(float64))
	right := int32(data["right"].(float64))

	body := `{"variant":"pairwise","topic_id":"T","ballot_id":"` + ballotID + `","winner":` + itoa(left) + `,"loser":` + itoa(right) + `}`
	rec, saveEnv := postJSON(t, srv.BallotSaveHandler(), body)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 0, saveEnv.Status)
	require.Len(t, agg.submitted, 1)
	assert.Equal(t, left, agg.submitted[0].Pairwise.Win)
}

func TestBallotSaveHandler_ReplayRejected(t *testing.T) {
	srv, _, _ := newTestServer(t)

	_, env := postJSON(t, srv.BallotNewHandler(), `{"topic_id":"T"}`)
	data := env.Data.(map[string]interface{})
	ballotID := data["ballot_id"].(string)
	left := int32(data["left"].(float64))
	right := int32(data["right"].(float64))

	body := `{"variant":"pairwise","topic_id":"T","ballot_id":"` + ballotID + `","winner":` + itoa(left) + `,"loser":` + itoa(right) + `}`
	rec, _ := postJSON(t, srv.BallotSaveHandler(), body)
	require.Equal(t, http.StatusOK, rec.Code)

	// The challenge was consumed by the first save; the replay finds nothing.
	rec2, env2 := postJSON(t, srv.BallotSaveHandler(), body)
	assert.Equal(t, http.StatusNotFound, rec2.Code)
	assert.Equal(t, 404, env2.Status)
}

func TestBallotSaveHandler_WinnerEqualsLoser_400(t *testing.T) {
	srv, kv, _ := newTestServer(t)
	kv.challenges = map[string]string{"T:ballot:b1": "101,102"}

	body := `{"variant":"pairwise","topic_id":"T","ballot_id":"b1","winner":101,"loser":101}`
	rec, env := postJSON(t, srv.BallotSaveHandler(), body)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, 400, env.Status)
}

func TestBallotSaveHandler_MissingPairwiseFields_400(t *testing.T) {
	srv, _, _ := newTestServer(t)

	body := `{"variant":"pairwise","topic_id":"T","ballot_id":"b1"}`
	rec, _ := postJSON(t, srv.BallotSaveHandler(), body)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestTopicListHandler_ReturnsActiveIDs(t *testing.T) {
	srv, _, _ := newTestServer(t)

	rec, env := postJSON(t, srv.TopicListHandler(), `{}`)
	require.Equal(t, http.StatusOK, rec.Code)
	data := env.Data.(map[string]interface{})
	ids := data["topic_ids"].([]interface{})
	assert.Contains(t, ids, "T")
}

func TestTopicInfoHandler_RendersSnakeCaseFields(t *testing.T) {
	srv, _, _ := newTestServer(t)

	rec, env := postJSON(t, srv.TopicInfoHandler(), `{"topic_id":"T"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	data := env.Data.(map[string]interface{})
	assert.Equal(t, "T", data["id"])
	assert.Equal(t, "pairwise", data["topic_type"])
	assert.Equal(t, true, data["is_active"])
	assert.Contains(t, data, "open_time")
}

func TestAuditHandlers_ForbiddenWithoutAdminToken(t *testing.T) {
	srv, _, _ := newTestServer(t)

	rec, env := postJSON(t, srv.AuditTopicHandler(), `{"topic_id":"T","auditor_id":"a","category_kind":"spam"}`)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, 403, env.Status)

	rec2, _ := postJSON(t, srv.AuditNeedAuditTopicsHandler(), `{}`)
	assert.Equal(t, http.StatusForbidden, rec2.Code)
}

func TestClientIP_PrefersRealIPHeader(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/", nil)
	req.Header.Set("X-Real-IP", "203.0.113.9")
	assert.Equal(t, "203.0.113.9", clientIP(req))

	req2 := httptest.NewRequest(http.MethodPost, "/", nil)
	req2.Header.Set("X-Forwarded-For", "198.51.100.1, 10.0.0.1")
	assert.Equal(t, "198.51.100.1", clientIP(req2))

	req3 := httptest.NewRequest(http.MethodPost, "/", nil)
	req3.RemoteAddr = "192.0.2.7:4567"
	assert.Equal(t, "192.0.2.7", clientIP(req3))
}
