package httpserver

import (
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/fairyhunter13/arkrank/internal/config"
	"github.com/fairyhunter13/arkrank/internal/domain"
	"github.com/fairyhunter13/arkrank/internal/usecase"
)

// Server holds the application services the HTTP handlers dispatch to.
type Server struct {
	cfg       config.Config
	challenge *usecase.ChallengeService
	topic     *usecase.TopicService
	result    *usecase.ResultService
}

// NewServer constructs a Server bound to the given application services.
func NewServer(cfg config.Config, challenge *usecase.ChallengeService, topic *usecase.TopicService, result *usecase.ResultService) *Server {
	return &Server{cfg: cfg, challenge: challenge, topic: topic, result: result}
}

func decodeBody(r *http.Request, v interface{}) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("op=httpserver.decode: %w: %v", domain.ErrInvalidBallotFormat, err)
	}
	return nil
}

func clientIP(r *http.Request) string {
	if ip := r.Header.Get("X-Real-IP"); ip != "" {
		return ip
	}
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		return strings.TrimSpace(strings.Split(fwd, ",")[0])
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil && host != "" {
		return host
	}
	return "unknown"
}

// TopicListHandler implements POST /topic/list.
func (s *Server) TopicListHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ids := s.topic.List(r.Context())
		writeOK(w, map[string]interface{}{"topic_ids": ids})
	}
}

// TopicCreateHandler implements POST /topic/create.
func (s *Server) TopicCreateHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req topicCreateRequest
		if err := decodeBody(r, &req); err != nil {
			writeError(w, err)
			return
		}
		if err := validate.Struct(req); err != nil {
			writeError(w, fmt.Errorf("op=topic.create: %w: %v", domain.ErrInvalidBallotFormat, err))
			return
		}
		openTime, err := time.Parse(time.RFC3339, req.OpenTime)
		if err != nil {
			writeError(w, fmt.Errorf("op=topic.create: %w: %v", domain.ErrInvalidBallotFormat, err))
			return
		}
		closeTime, err := time.Parse(time.RFC3339, req.CloseTime)
		if err != nil {
			writeError(w, fmt.Errorf("op=topic.create: %w: %v", domain.ErrInvalidBallotFormat, err))
			return
		}

		topic, err := s.topic.Create(r.Context(), usecase.TopicCreateRequest{
			ID:            req.ID,
			Name:          req.Name,
			Title:         req.Title,
			Description:   req.Description,
			TopicType:     domain.VotingTopicType(req.TopicType),
			CandidatePool: poolExprFromRequest(req.CandidatePool),
			OpenTime:      openTime,
			CloseTime:     closeTime,
			IsActive:      req.IsActive,
		})
		if err != nil {
			writeError(w, err)
			return
		}
		writeOK(w, map[string]interface{}{
			"id":        topic.ID,
			"is_active": topic.IsActive,
			"status":    topic.Status.Kind,
		})
	}
}

func poolExprFromRequest(r poolExprRequest) domain.PoolExpr {
	e := domain.PoolExpr{
		Kind:           domain.PoolExprKind(r.Type),
		CustomIDs:      r.CustomIDs,
		Rarities:       intsToRarities(r.Rarities),
		Professions:    r.Professions,
		SubProfessions: r.SubProfessions,
	}
	if r.Filter != nil {
		f := &domain.FilterPredicate{
			Rarities:       intsToRarities(r.Filter.Rarities),
			Professions:    r.Filter.Professions,
			SubProfessions: r.Filter.SubProfessions,
			IncludeIDs:     r.Filter.IncludeIDs,
			ExcludeIDs:     r.Filter.ExcludeIDs,
		}
		if r.Filter.MinRarity != nil {
			v := domain.RarityRank(*r.Filter.MinRarity)
			f.MinRarity = &v
		}
		if r.Filter.MaxRarity != nil {
			v := domain.RarityRank(*r.Filter.MaxRarity)
			f.MaxRarity = &v
		}
		e.Filter = f
	}
	for _, c := range r.Children {
		e.Children = append(e.Children, poolExprFromRequest(c))
	}
	if r.Base != nil {
		b := poolExprFromRequest(*r.Base)
		e.Base = &b
	}
	if r.Exclude != nil {
		ex := poolExprFromRequest(*r.Exclude)
		e.Exclude = &ex
	}
	return e
}

func intsToRarities(in []int) []domain.RarityRank {
	if len(in) == 0 {
		return nil
	}
	out := make([]domain.RarityRank, len(in))
	for i, v := range in {
		out[i] = domain.RarityRank(v)
	}
	return out
}

// topicResponse renders a topic's fields with wire-stable snake_case keys.
func topicResponse(t domain.Topic) map[string]interface{} {
	out := map[string]interface{}{
		"id":          t.ID,
		"name":        t.Name,
		"title":       t.Title,
		"description": t.Description,
		"topic_type":  t.TopicType,
		"created_at":  t.CreatedAt.Format(time.RFC3339),
		"open_time":   t.OpenTime.Format(time.RFC3339),
		"close_time":  t.CloseTime.Format(time.RFC3339),
		"is_active":   t.IsActive,
		"status":      t.Status.Kind,
	}
	if t.UpdatedAt != nil {
		out["updated_at"] = t.UpdatedAt.Format(time.RFC3339)
	}
	return out
}

// TopicInfoHandler implements POST /topic/info.
func (s *Server) TopicInfoHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req topicIDRequest
		if err := decodeBody(r, &req); err != nil {
			writeError(w, err)
			return
		}
		topic, err := s.topic.Info(r.Context(), req.TopicID)
		if err != nil {
			writeError(w, err)
			return
		}
		writeOK(w, topicResponse(topic))
	}
}

// TopicCandidatePoolHandler implements POST /topic/candidate_pool.
func (s *Server) TopicCandidatePoolHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req topicIDRequest
		if err := decodeBody(r, &req); err != nil {
			writeError(w, err)
			return
		}
		pool, err := s.topic.CandidatePool(r.Context(), req.TopicID)
		if err != nil {
			writeError(w, err)
			return
		}
		writeOK(w, map[string]interface{}{"topic_id": req.TopicID, "pool": pool})
	}
}

// BallotNewHandler implements POST /ballot/new.
func (s *Server) BallotNewHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req ballotNewRequest
		if err := decodeBody(r, &req); err != nil {
			writeError(w, err)
			return
		}
		challenge, err := s.challenge.NewPairwise(r.Context(), req.TopicID)
		if err != nil {
			writeError(w, err)
			return
		}
		writeOK(w, map[string]interface{}{
			"topic_id":  challenge.TopicID,
			"ballot_id": challenge.BallotID,
			"left":      challenge.Left,
			"right":     challenge.Right,
		})
	}
}

// BallotSaveHandler implements POST /ballot/save.
func (s *Server) BallotSaveHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req ballotSaveRequest
		if err := decodeBody(r, &req); err != nil {
			writeError(w, err)
			return
		}
		if err := validate.Struct(req); err != nil {
			writeError(w, fmt.Errorf("op=ballot.save: %w: %v", domain.ErrInvalidBallotFormat, err))
			return
		}

		ip := clientIP(r)
		ua := r.UserAgent()

		var err error
		switch domain.VotingTopicType(req.Variant) {
		case domain.TopicPairwise:
			if req.Winner == nil || req.Loser == nil {
				writeError(w, fmt.Errorf("op=ballot.save: %w", domain.ErrInvalidBallotFormat))
				return
			}
			err = s.challenge.SavePairwise(r.Context(), usecase.SavePairwiseRequest{
				TopicID:   req.TopicID,
				BallotID:  req.BallotID,
				Winner:    *req.Winner,
				Loser:     *req.Loser,
				IP:        ip,
				UserAgent: ua,
			})
		case domain.TopicSetwise:
			err = s.challenge.SaveRaw(r.Context(), req.TopicID, domain.Ballot{
				Variant: domain.VariantSetwise,
				Setwise: &domain.SetwiseBallot{
					Info:          ballotInfo(req, ip, ua),
					LeftSet:       req.LeftSet,
					RightSet:      req.RightSet,
					SelectedLeft:  req.SelectedLeft,
					SelectedRight: req.SelectedRight,
				},
			})
		case domain.TopicGroupwise:
			err = s.challenge.SaveRaw(r.Context(), req.TopicID, domain.Ballot{
				Variant: domain.VariantGroupwise,
				Groupwise: &domain.GroupwiseBallot{
					Info:          ballotInfo(req, ip, ua),
					LeftGroup:     req.LeftGroup,
					RightGroup:    req.RightGroup,
					SelectedGroup: domain.GroupwiseSelection(req.SelectedGroup),
				},
			})
		case domain.TopicPlurality:
			selected := int32(0)
			if req.Selected != nil {
				selected = *req.Selected
			}
			err = s.challenge.SaveRaw(r.Context(), req.TopicID, domain.Ballot{
				Variant: domain.VariantPlurality,
				Plurality: &domain.PluralityBallot{
					Info:       ballotInfo(req, ip, ua),
					Candidates: req.Candidates,
					Selected:   selected,
				},
			})
		default:
			err = fmt.Errorf("op=ballot.save: %w", domain.ErrInvalidBallotFormat)
		}

		if err != nil {
			writeError(w, err)
			return
		}
		writeOK(w, map[string]interface{}{"code": 0})
	}
}

func ballotInfo(req ballotSaveRequest, ip, ua string) domain.BallotInfo {
	return domain.BallotInfo{
		TopicID:     req.TopicID,
		BallotID:    req.BallotID,
		IP:          ip,
		UserAgent:   ua,
		TimestampMs: time.Now().UnixMilli(),
	}
}

// BallotSkipHandler implements POST /ballot/skip.
func (s *Server) BallotSkipHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req ballotSkipRequest
		if err := decodeBody(r, &req); err != nil {
			writeError(w, err)
			return
		}
		if err := s.challenge.SkipPairwise(r.Context(), req.TopicID, req.BallotID); err != nil {
			writeError(w, err)
			return
		}
		writeOK(w, map[string]interface{}{"code": 0})
	}
}

// ResultsFinalOrderHandler implements POST /results/final_order.
func (s *Server) ResultsFinalOrderHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req topicIDRequest
		if err := decodeBody(r, &req); err != nil {
			writeError(w, err)
			return
		}
		result, err := s.result.FinalOrder(r.Context(), req.TopicID)
		if err != nil {
			writeError(w, err)
			return
		}
		writeOK(w, map[string]interface{}{
			"topic_id": result.TopicID,
			"items":    renderFinalOrderItems(result.Items),
			"count":    result.Count,
		})
	}
}

func renderFinalOrderItems(items []domain.FinalOrderItem) []map[string]interface{} {
	out := make([]map[string]interface{}, 0, len(items))
	for _, it := range items {
		out = append(out, map[string]interface{}{
			"id":    it.ID,
			"win":   it.Win,
			"lose":  it.Lose,
			"rate":  it.FormatRate(),
			"score": it.FormatScore(),
		})
	}
	return out
}

// Results1v1MatrixHandler implements POST /results/1v1_matrix.
func (s *Server) Results1v1MatrixHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req topicIDRequest
		if err := decodeBody(r, &req); err != nil {
			writeError(w, err)
			return
		}
		matrix, err := s.result.Matrix1v1(r.Context(), req.TopicID)
		if err != nil {
			writeError(w, err)
			return
		}
		writeOK(w, matrix)
	}
}

// AuditTopicHandler implements POST /audit/topic, gated by config.AdminToken.
func (s *Server) AuditTopicHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !s.isAdmin(r) {
			writeError(w, fmt.Errorf("op=audit.topic: %w", domain.ErrEndpointForbidden))
			return
		}
		var req auditTopicRequest
		if err := decodeBody(r, &req); err != nil {
			writeError(w, err)
			return
		}
		info := domain.TopicAuditInfo{
			AuditorID:   req.AuditorID,
			AuditorName: req.AuditorName,
			AuditTime:   time.Now(),
			AuditReason: req.AuditReason,
			AuditCategory: domain.AuditCategory{
				Kind:   domain.AuditCategoryKind(req.CategoryKind),
				Reason: req.CategoryOther,
			},
		}
		if err := s.topic.AuditTopic(r.Context(), req.TopicID, info); err != nil {
			writeError(w, err)
			return
		}
		writeOK(w, struct{}{})
	}
}

// AuditNeedAuditTopicsHandler implements POST /audit/need_audit_topics,
// gated by config.AdminToken.
func (s *Server) AuditNeedAuditTopicsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !s.isAdmin(r) {
			writeError(w, fmt.Errorf("op=audit.needAuditTopics: %w", domain.ErrEndpointForbidden))
			return
		}
		topics, err := s.topic.NeedAuditTopics(r.Context())
		if err != nil {
			writeError(w, err)
			return
		}
		rendered := make([]map[string]interface{}, 0, len(topics))
		for _, t := range topics {
			rendered = append(rendered, topicResponse(t))
		}
		writeOK(w, map[string]interface{}{"topics": rendered})
	}
}

// isAdmin enforces the shared-secret guard on the audit routes: with no
// admin token configured, every audit request is forbidden.
func (s *Server) isAdmin(r *http.Request) bool {
	if !s.cfg.AdminEnabled() {
		return false
	}
	return r.Header.Get("X-Admin-Token") == s.cfg.AdminToken
}

// HealthzHandler is the liveness endpoint; checking dependencies is the
// admin liveness endpoint's job, out of scope here.
func (s *Server) HealthzHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeOK(w, map[string]string{"status": "ok"})
	}
}
