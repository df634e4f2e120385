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
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"testing"
	"time"

	"github.com/emicklei/go-restful/v3"
	"github.com/steinfletcher/apitest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/suite"

	"github.com/gorse-io/cfbench/config"
	"github.com/gorse-io/cfbench/dataset"
	"github.com/gorse-io/cfbench/model"
	"github.com/gorse-io/cfbench/model/mf"
)

const apiKey = "test_api_key"

type ServerTestSuite struct {
	suite.Suite
	RestServer
	handler *restful.Container
}

func (suite *ServerTestSuite) SetupSuite() {
	// train a small model
	d := dataset.NewDataset(time.Now(), 30, 40)
	for u := 0; u < 30; u++ {
		for i := 0; i < 40; i++ {
			if (u+i)%4 == 0 {
				continue
			}
			d.AddFeedback(strconv.Itoa(u), strconv.Itoa(i), float32(1+u%3+i%3))
		}
	}
	trainSet, testSet := d.Split(0.2, 0, 0)
	m := mf.NewMF(model.Params{
		model.NFactors:   4,
		model.NEpochs:    10,
		model.Lr:         0.05,
		model.InitStdDev: 0.001,
	})
	m.Fit(context.Background(), trainSet, testSet, mf.NewFitConfig().SetVerbose(10))

	settings := config.NewSettings()
	settings.Config.Server.APIKey = apiKey
	settings.Model = m
	settings.ModelVersion = 42
	suite.RestServer = *NewRestServer(settings)
	suite.TrainSet = trainSet
	suite.CreateWebService()
	suite.handler = restful.NewContainer()
	suite.handler.Add(suite.WebService)
}

func (suite *ServerTestSuite) marshal(v interface{}) string {
	s, err := json.Marshal(v)
	suite.NoError(err)
	return string(s)
}

func (suite *ServerTestSuite) unmarshal(resp *http.Response, v interface{}) {
	defer resp.Body.Close()
	suite.NoError(json.NewDecoder(resp.Body).Decode(v))
}

func (suite *ServerTestSuite) TestReady() {
	apitest.New().
		Handler(suite.handler).
		Get("/api/ready").
		Header("Authorization", "Bearer "+apiKey).
		Expect(suite.T()).
		Status(http.StatusOK).
		Body(suite.marshal(ReadyResponse{
			ModelName:    "mf",
			ModelVersion: 42,
			UserCount:    30,
			ItemCount:    40,
		})).
		End()
}

func (suite *ServerTestSuite) TestUnauthorized() {
	apitest.New().
		Handler(suite.handler).
		Get("/api/ready").
		Expect(suite.T()).
		Status(http.StatusUnauthorized).
		End()
	apitest.New().
		Handler(suite.handler).
		Get("/api/ready").
		Header("Authorization", "Bearer wrong_key").
		Expect(suite.T()).
		Status(http.StatusUnauthorized).
		End()
}

func (suite *ServerTestSuite) TestScore() {
	result := apitest.New().
		Handler(suite.handler).
		Post("/api/score").
		Header("Authorization", "Bearer "+apiKey).
		JSON(ScoreRequest{UserId: "1", ItemId: "2"}).
		Expect(suite.T()).
		Status(http.StatusOK).
		End()
	var score ScoreResponse
	suite.unmarshal(result.Response, &score)
	suite.Equal("1", score.UserId)
	suite.Equal("2", score.ItemId)
	suite.True(score.Predictable)
	suite.Greater(score.Score, 0.0)

	// unknown users fall back to known bias terms
	result = apitest.New().
		Handler(suite.handler).
		Post("/api/score").
		Header("Authorization", "Bearer "+apiKey).
		JSON(ScoreRequest{UserId: "no_such_user", ItemId: "2"}).
		Expect(suite.T()).
		Status(http.StatusOK).
		End()
	suite.unmarshal(result.Response, &score)
	suite.False(score.Predictable)
}

func (suite *ServerTestSuite) TestScores() {
	pairs := []ScoreRequest{
		{UserId: "1", ItemId: "2"},
		{UserId: "2", ItemId: "3"},
		{UserId: "3", ItemId: "5"},
	}
	result := apitest.New().
		Handler(suite.handler).
		Post("/api/scores").
		Header("Authorization", "Bearer "+apiKey).
		JSON(pairs).
		Expect(suite.T()).
		Status(http.StatusOK).
		End()
	var scores []ScoreResponse
	suite.unmarshal(result.Response, &scores)
	suite.Len(scores, len(pairs))
	for i, score := range scores {
		suite.Equal(pairs[i].UserId, score.UserId)
		suite.Equal(pairs[i].ItemId, score.ItemId)
	}
}

func (suite *ServerTestSuite) TestRecommend() {
	result := apitest.New().
		Handler(suite.handler).
		Post("/api/recommend").
		Header("Authorization", "Bearer "+apiKey).
		JSON(RecommendRequest{UserId: "0", N: 5}).
		Expect(suite.T()).
		Status(http.StatusOK).
		End()
	var recommended []RecommendedItem
	suite.unmarshal(result.Response, &recommended)
	suite.Len(recommended, 5)
	// scores decrease and training items are excluded
	trainItems := make(map[string]struct{})
	userIndex := suite.TrainSet.GetUserDict().Id("0")
	for _, itemIndex := range suite.TrainSet.GetUserFeedback()[userIndex] {
		itemId, ok := suite.TrainSet.GetItemDict().String(itemIndex)
		suite.True(ok)
		trainItems[itemId] = struct{}{}
	}
	for i, item := range recommended {
		if i > 0 {
			suite.GreaterOrEqual(recommended[i-1].Score, item.Score)
		}
		suite.NotContains(trainItems, item.ItemId)
	}

	// the second request is served from the cache
	result = apitest.New().
		Handler(suite.handler).
		Post("/api/recommend").
		Header("Authorization", "Bearer "+apiKey).
		JSON(RecommendRequest{UserId: "0", N: 5}).
		Expect(suite.T()).
		Status(http.StatusOK).
		End()
	var cached []RecommendedItem
	suite.unmarshal(result.Response, &cached)
	suite.Equal(recommended, cached)
}

func (suite *ServerTestSuite) TestBadRequest() {
	apitest.New().
		Handler(suite.handler).
		Post("/api/score").
		Header("Authorization", "Bearer "+apiKey).
		Body("not json").
		Header("Content-Type", "application/json").
		Expect(suite.T()).
		Status(http.StatusBadRequest).
		End()
	apitest.New().
		Handler(suite.handler).
		Post("/api/recommend").
		Header("Authorization", "Bearer "+apiKey).
		JSON(RecommendRequest{UserId: "0", N: 0}).
		Expect(suite.T()).
		Status(http.StatusBadRequest).
		End()
}

func TestServer(t *testing.T) {
	suite.Run(t, new(ServerTestSuite))
}

// Unmarshalling a model artifact compacts the item index to predictable
// items, so the served index space diverges from the train set's dictionary.
// Trained items must still be excluded from recommendations.
func TestRecommendAfterArtifactRoundTrip(t *testing.T) {
	d := dataset.NewDataset(time.Now(), 3, 4)
	// item "b" receives no ratings and is dropped by the artifact codec
	d.AddItem("b")
	d.AddFeedback("0", "a", 5)
	d.AddFeedback("0", "c", 4)
	for _, user := range []string{"1", "2"} {
		d.AddFeedback(user, "a", 4)
		d.AddFeedback(user, "c", 3)
		d.AddFeedback(user, "d", 5)
	}
	m := mf.NewMF(model.Params{
		model.NFactors: 4,
		model.NEpochs:  10,
		model.Lr:       0.05,
	})
	m.Fit(context.Background(), d, d, mf.NewFitConfig().SetVerbose(10))

	buf := bytes.Buffer{}
	assert.NoError(t, mf.MarshalModel(&buf, m))
	loaded, err := mf.UnmarshalModel(&buf)
	assert.NoError(t, err)
	assert.Less(t, loaded.GetItemIndex().Count(), d.GetItemDict().Count())

	settings := config.NewSettings()
	settings.Model = loaded
	restServer := NewRestServer(settings)
	restServer.TrainSet = d
	recommended := restServer.Recommend("0", 10)
	itemIds := make([]string, len(recommended))
	for i, item := range recommended {
		itemIds[i] = item.ItemId
	}
	assert.Equal(t, []string{"d"}, itemIds)
}
