// Copyright 2026 cfbench Project Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package server

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	restfulspec "github.com/emicklei/go-restful-openapi/v2"
	"github.com/emicklei/go-restful/v3"
	"github.com/jellydator/ttlcache/v3"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/swaggest/swgui/v5emb"
	"go.opentelemetry.io/contrib/instrumentation/github.com/emicklei/go-restful/otelrestful"
	"go.uber.org/zap"

	"github.com/gorse-io/cfbench/base/log"
	"github.com/gorse-io/cfbench/common/heap"
	"github.com/gorse-io/cfbench/config"
	"github.com/gorse-io/cfbench/dataset"
	"github.com/gorse-io/cfbench/model/mf"
)

// ReadyResponse is the metadata of the served model.
type ReadyResponse struct {
	ModelName    string `json:"model_name"`
	ModelVersion int64  `json:"model_version"`
	UserCount    int    `json:"user_count"`
	ItemCount    int    `json:"item_count"`
}

// ScoreRequest asks for the predicted rating of an item by a user.
type ScoreRequest struct {
	UserId string `json:"user_id"`
	ItemId string `json:"item_id"`
}

// ScoreResponse carries a predicted rating. Predictable is false when the
// user or the item was unseen during training and the score fell back to
// known bias terms.
type ScoreResponse struct {
	UserId      string  `json:"user_id"`
	ItemId      string  `json:"item_id"`
	Score       float64 `json:"score"`
	Predictable bool    `json:"predictable"`
}

// RecommendRequest asks for the top n items for a user.
type RecommendRequest struct {
	UserId string `json:"user_id"`
	N      int    `json:"n"`
}

// RecommendedItem is one entry of a recommendation list.
type RecommendedItem struct {
	ItemId string  `json:"item_id"`
	Score  float64 `json:"score"`
}

// ErrorResponse is the body of a non-2xx reply.
type ErrorResponse struct {
	Error string `json:"error"`
}

// RestServer serves a trained matrix factorization model over a REST-ful API.
type RestServer struct {
	*config.Settings

	HttpServer *http.Server
	WebService *restful.WebService

	// TrainSet supplies the items each user interacted with during training
	// so recommendations can exclude them. Optional.
	TrainSet dataset.CFSplit

	recommendCache *ttlcache.Cache[string, []RecommendedItem]
}

// NewRestServer creates a scoring server from settings.
func NewRestServer(settings *config.Settings) *RestServer {
	return &RestServer{
		Settings:   settings,
		WebService: new(restful.WebService),
		recommendCache: ttlcache.New(
			ttlcache.WithTTL[string, []RecommendedItem](settings.Config.Server.CacheExpire),
			ttlcache.WithCapacity[string, []RecommendedItem](uint64(settings.Config.Server.CacheSize))),
	}
}

// StartHttpServer starts the REST-ful API server. It blocks until Shutdown
// is called or the listener fails.
func (s *RestServer) StartHttpServer() error {
	// register restful APIs
	s.CreateWebService()
	container := restful.NewContainer()
	container.Add(s.WebService)
	// register swagger UI
	specConfig := restfulspec.Config{
		WebServices: container.RegisteredWebServices(),
		APIPath:     "/apidocs.json",
	}
	container.Add(restfulspec.NewOpenAPIService(specConfig))
	container.Handle("/apidocs/", v5emb.New("cfbench scoring API", specConfig.APIPath, "/apidocs/"))
	// register prometheus
	if s.Config.Server.EnableMetrics {
		container.Handle("/metrics", promhttp.Handler())
	}

	addr := fmt.Sprintf("%s:%d", s.Config.Server.HttpHost, s.Config.Server.HttpPort)
	s.HttpServer = &http.Server{Addr: addr, Handler: container}
	log.Logger().Info("start http server", zap.String("url", fmt.Sprintf("http://%s", addr)))
	if err := s.HttpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown stops the REST-ful API server gracefully.
func (s *RestServer) Shutdown() {
	if s.HttpServer != nil {
		if err := s.HttpServer.Shutdown(context.TODO()); err != nil {
			log.Logger().Error("failed to shutdown http server", zap.Error(err))
		}
	}
}

// LogFilter logs every request handled by the web service.
func LogFilter(req *restful.Request, resp *restful.Response, chain *restful.FilterChain) {
	chain.ProcessFilter(req, resp)
	log.Logger().Info(fmt.Sprintf("%s %s", req.Request.Method, req.Request.URL),
		zap.Int("status_code", resp.StatusCode()))
}

// MetricsFilter observes request totals and latencies per route.
func MetricsFilter(req *restful.Request, resp *restful.Response, chain *restful.FilterChain) {
	startTime := time.Now()
	chain.ProcessFilter(req, resp)
	routePath := req.SelectedRoutePath()
	RestAPIRequestSeconds.WithLabelValues(routePath).Observe(time.Since(startTime).Seconds())
	RestAPIRequestTotal.WithLabelValues(routePath, fmt.Sprint(resp.StatusCode())).Inc()
}

// AuthFilter rejects requests without the configured bearer token.
func (s *RestServer) AuthFilter(req *restful.Request, resp *restful.Response, chain *restful.FilterChain) {
	if s.Config.Server.APIKey == "" {
		chain.ProcessFilter(req, resp)
		return
	}
	authorization := req.HeaderParameter("Authorization")
	if token, ok := strings.CutPrefix(authorization, "Bearer "); ok && token == s.Config.Server.APIKey {
		chain.ProcessFilter(req, resp)
		return
	}
	log.Logger().Error("unauthorized", zap.String("authorization", log.RedactToken(authorization)))
	Error(resp, http.StatusUnauthorized, fmt.Errorf("unauthorized"))
}

// CreateWebService creates the scoring web service.
func (s *RestServer) CreateWebService() {
	ws := s.WebService
	ws.Consumes(restful.MIME_JSON).Produces(restful.MIME_JSON)
	ws.Path("/api/")
	if s.Config.Tracing.EnableTracing {
		ws.Filter(otelrestful.OTelFilter("cfbench"))
	}
	ws.Filter(LogFilter)
	if s.Config.Server.EnableMetrics {
		ws.Filter(MetricsFilter)
	}
	ws.Filter(s.AuthFilter)

	// Get model metadata
	ws.Route(ws.GET("/ready").To(s.getReady).
		Doc("Get liveness and metadata of the served model.").
		Metadata(restfulspec.KeyOpenAPITags, []string{"model"}).
		Param(ws.HeaderParameter("Authorization", "bearer token for RESTful API")).
		Writes(ReadyResponse{}))
	// Score a user-item pair
	ws.Route(ws.POST("/score").To(s.postScore).
		Doc("Predict the rating of an item by a user.").
		Metadata(restfulspec.KeyOpenAPITags, []string{"score"}).
		Param(ws.HeaderParameter("Authorization", "bearer token for RESTful API")).
		Reads(ScoreRequest{}).
		Writes(ScoreResponse{}))
	// Score a batch of user-item pairs
	ws.Route(ws.POST("/scores").To(s.postScores).
		Doc("Predict the ratings of a batch of user-item pairs.").
		Metadata(restfulspec.KeyOpenAPITags, []string{"score"}).
		Param(ws.HeaderParameter("Authorization", "bearer token for RESTful API")).
		Reads([]ScoreRequest{}).
		Writes([]ScoreResponse{}))
	// Recommend items for a user
	ws.Route(ws.POST("/recommend").To(s.postRecommend).
		Doc("Recommend the top n items for a user.").
		Metadata(restfulspec.KeyOpenAPITags, []string{"recommend"}).
		Param(ws.HeaderParameter("Authorization", "bearer token for RESTful API")).
		Reads(RecommendRequest{}).
		Writes([]RecommendedItem{}))
}

func (s *RestServer) getReady(_ *restful.Request, response *restful.Response) {
	if s.Model == nil || s.Model.Invalid() {
		Error(response, http.StatusServiceUnavailable, fmt.Errorf("no model loaded"))
		return
	}
	Ok(response, ReadyResponse{
		ModelName:    mf.GetModelName(s.Model),
		ModelVersion: s.ModelVersion,
		UserCount:    int(s.Model.GetUserIndex().Count()),
		ItemCount:    int(s.Model.GetItemIndex().Count()),
	})
}

func (s *RestServer) score(request ScoreRequest) ScoreResponse {
	userIndex := s.Model.GetUserIndex().Id(request.UserId)
	itemIndex := s.Model.GetItemIndex().Id(request.ItemId)
	return ScoreResponse{
		UserId: request.UserId,
		ItemId: request.ItemId,
		Score:  float64(s.Model.Predict(request.UserId, request.ItemId)),
		Predictable: userIndex >= 0 && s.Model.IsUserPredictable(userIndex) &&
			itemIndex >= 0 && s.Model.IsItemPredictable(itemIndex),
	}
}

func (s *RestServer) postScore(request *restful.Request, response *restful.Response) {
	if s.Model == nil || s.Model.Invalid() {
		Error(response, http.StatusServiceUnavailable, fmt.Errorf("no model loaded"))
		return
	}
	var scoreRequest ScoreRequest
	if err := request.ReadEntity(&scoreRequest); err != nil {
		BadRequest(response, err)
		return
	}
	Ok(response, s.score(scoreRequest))
}

func (s *RestServer) postScores(request *restful.Request, response *restful.Response) {
	if s.Model == nil || s.Model.Invalid() {
		Error(response, http.StatusServiceUnavailable, fmt.Errorf("no model loaded"))
		return
	}
	var scoreRequests []ScoreRequest
	if err := request.ReadEntity(&scoreRequests); err != nil {
		BadRequest(response, err)
		return
	}
	scores := make([]ScoreResponse, len(scoreRequests))
	for i, scoreRequest := range scoreRequests {
		scores[i] = s.score(scoreRequest)
	}
	Ok(response, scores)
}

func (s *RestServer) postRecommend(request *restful.Request, response *restful.Response) {
	if s.Model == nil || s.Model.Invalid() {
		Error(response, http.StatusServiceUnavailable, fmt.Errorf("no model loaded"))
		return
	}
	var recommendRequest RecommendRequest
	if err := request.ReadEntity(&recommendRequest); err != nil {
		BadRequest(response, err)
		return
	}
	if recommendRequest.N <= 0 {
		BadRequest(response, fmt.Errorf("n must be positive"))
		return
	}
	// load cached recommendation
	cacheKey := fmt.Sprintf("%s/%d", recommendRequest.UserId, recommendRequest.N)
	if item := s.recommendCache.Get(cacheKey); item != nil {
		Ok(response, item.Value())
		return
	}
	recommendedItems := s.Recommend(recommendRequest.UserId, recommendRequest.N)
	s.recommendCache.Set(cacheKey, recommendedItems, ttlcache.DefaultTTL)
	Ok(response, recommendedItems)
}

// Recommend returns the top n items for a user by predicted score, excluding
// the items the user interacted with during training when the train set is
// attached.
func (s *RestServer) Recommend(userId string, n int) []RecommendedItem {
	itemIndex := s.Model.GetItemIndex()
	// The train set and the model index items independently. Unpredictable
	// items are compacted away when a model is unmarshalled, so trained items
	// must be resolved by string id, not by index.
	excludeSet := make(map[int32]struct{})
	if s.TrainSet != nil {
		userIndex := s.TrainSet.GetUserDict().Id(userId)
		if userIndex >= 0 && int(userIndex) < len(s.TrainSet.GetUserFeedback()) {
			for _, trainItemIndex := range s.TrainSet.GetUserFeedback()[userIndex] {
				itemId, exist := s.TrainSet.GetItemDict().String(trainItemIndex)
				if !exist {
					continue
				}
				if modelItemIndex := itemIndex.Id(itemId); modelItemIndex >= 0 {
					excludeSet[modelItemIndex] = struct{}{}
				}
			}
		}
	}
	filter := heap.NewTopKFilter[int32, float32](n)
	for i := int32(0); i < itemIndex.Count(); i++ {
		if _, exist := excludeSet[i]; exist {
			continue
		}
		if !s.Model.IsItemPredictable(i) {
			continue
		}
		itemId, _ := itemIndex.String(i)
		filter.Push(i, s.Model.Predict(userId, itemId))
	}
	elems := filter.PopAll()
	recommendedItems := make([]RecommendedItem, len(elems))
	for i, elem := range elems {
		itemId, _ := itemIndex.String(elem.Value)
		recommendedItems[i] = RecommendedItem{
			ItemId: itemId,
			Score:  float64(elem.Weight),
		}
	}
	return recommendedItems
}

// Ok sends the content as JSON to the client.
func Ok(response *restful.Response, content interface{}) {
	response.Header().Set("Access-Control-Allow-Origin", "*")
	if err := response.WriteAsJson(content); err != nil {
		log.Logger().Error("failed to write json", zap.Error(err))
	}
}

// Error writes an error response with the given status code.
func Error(response *restful.Response, status int, err error) {
	response.Header().Set("Access-Control-Allow-Origin", "*")
	if err := response.WriteHeaderAndJson(status, ErrorResponse{Error: err.Error()}, restful.MIME_JSON); err != nil {
		log.Logger().Error("failed to write error", zap.Error(err))
	}
}

// BadRequest returns a bad request error.
func BadRequest(response *restful.Response, err error) {
	log.ResponseLogger(response).Error("bad request", zap.Error(err))
	Error(response, http.StatusBadRequest, err)
}

// InternalServerError returns an internal server error.
func InternalServerError(response *restful.Response, err error) {
	log.ResponseLogger(response).Error("internal server error", zap.Error(err))
	Error(response, http.StatusInternalServerError, err)
}
