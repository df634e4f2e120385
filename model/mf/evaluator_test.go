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

package mf

import (
	"context"
	"io"
	"strconv"
	"testing"
	"time"

	"github.com/c-bata/goptuna"
	mapset "github.com/deckarep/golang-set/v2"
	"github.com/gorse-io/cfbench/dataset"
	"github.com/gorse-io/cfbench/model"
	"github.com/stretchr/testify/assert"
)

const evalEpsilon = 0.00001

func TestNDCG(t *testing.T) {
	targetSet := mapset.NewSet[int32](1, 3, 5, 7)
	rankList := []int32{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}
	assert.InDelta(t, 0.6766372989, NDCG(targetSet, rankList), evalEpsilon)
}

func TestPrecision(t *testing.T) {
	targetSet := mapset.NewSet[int32](1, 3, 5, 7)
	rankList := []int32{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}
	assert.InDelta(t, 0.4, Precision(targetSet, rankList), evalEpsilon)
}

func TestRecall(t *testing.T) {
	targetSet := mapset.NewSet[int32](1, 3, 15, 17, 19)
	rankList := []int32{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}
	assert.InDelta(t, 0.4, Recall(targetSet, rankList), evalEpsilon)
}

func TestAP(t *testing.T) {
	targetSet := mapset.NewSet[int32](1, 3, 7, 9)
	rankList := []int32{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}
	assert.InDelta(t, 0.44375, MAP(targetSet, rankList), evalEpsilon)
}

func TestRR(t *testing.T) {
	targetSet := mapset.NewSet[int32](3)
	rankList := []int32{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}
	assert.InDelta(t, 0.25, MRR(targetSet, rankList), evalEpsilon)
}

func TestHR(t *testing.T) {
	rankList := []int32{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}
	assert.InDelta(t, 1, HR(mapset.NewSet[int32](3), rankList), evalEpsilon)
	assert.InDelta(t, 0, HR(mapset.NewSet[int32](30), rankList), evalEpsilon)
}

type mockMatrixFactorizationForEval struct {
	model.BaseModel
	positive []mapset.Set[int32]
	negative []mapset.Set[int32]
}

func (m *mockMatrixFactorizationForEval) GetUserFactor(_ int32) []float32 {
	panic("implement me")
}

func (m *mockMatrixFactorizationForEval) GetItemFactor(_ int32) []float32 {
	panic("implement me")
}

func (m *mockMatrixFactorizationForEval) IsUserPredictable(_ int32) bool {
	panic("implement me")
}

func (m *mockMatrixFactorizationForEval) IsItemPredictable(_ int32) bool {
	panic("implement me")
}

func (m *mockMatrixFactorizationForEval) Marshal(_ io.Writer) error {
	panic("implement me")
}

func (m *mockMatrixFactorizationForEval) Unmarshal(_ io.Reader) error {
	panic("implement me")
}

func (m *mockMatrixFactorizationForEval) Invalid() bool {
	panic("implement me")
}

func (m *mockMatrixFactorizationForEval) GetUserIndex() *dataset.FreqDict {
	panic("don't call me")
}

func (m *mockMatrixFactorizationForEval) GetItemIndex() *dataset.FreqDict {
	panic("don't call me")
}

func (m *mockMatrixFactorizationForEval) Fit(_ context.Context, _, _ dataset.CFSplit, _ *FitConfig) Score {
	panic("don't call me")
}

func (m *mockMatrixFactorizationForEval) Predict(_, _ string) float32 {
	panic("don't call me")
}

func (m *mockMatrixFactorizationForEval) internalPredict(userId, itemId int32) float32 {
	if m.positive[userId].Contains(itemId) {
		return 1
	}
	if m.negative[userId].Contains(itemId) {
		return -1
	}
	return 0
}

func (m *mockMatrixFactorizationForEval) Clear() {
	// do nothing
}

func (m *mockMatrixFactorizationForEval) GetParamsGrid(_ bool) model.ParamsGrid {
	panic("don't call me")
}

func (m *mockMatrixFactorizationForEval) SuggestParams(_ goptuna.Trial) model.Params {
	panic("don't call me")
}

func TestEvaluate(t *testing.T) {
	// create dataset
	train, test := dataset.NewDataset(time.Now(), 0, 0), dataset.NewDataset(time.Now(), 0, 0)
	for i := 0; i < 4; i++ {
		train.AddUser(strconv.Itoa(i))
		test.AddUser(strconv.Itoa(i))
	}
	for i := 0; i < 16; i++ {
		test.AddFeedback(strconv.Itoa(i/4), strconv.Itoa(i), 1)
	}
	assert.Equal(t, 16, test.CountFeedback())
	assert.Equal(t, 4, test.CountUsers())
	assert.Equal(t, 16, test.CountItems())
	// create model
	m := &mockMatrixFactorizationForEval{
		positive: []mapset.Set[int32]{
			mapset.NewSet[int32](0, 1, 2, 3),
			mapset.NewSet[int32](4, 5, 6),
			mapset.NewSet[int32](8, 9),
			mapset.NewSet[int32](12),
		},
		negative: []mapset.Set[int32]{
			mapset.NewSet[int32](),
			mapset.NewSet[int32](7),
			mapset.NewSet[int32](10, 11),
			mapset.NewSet[int32](13, 14, 15),
		},
	}
	// evaluate model
	s := Evaluate(context.Background(), m, test, train, 4, test.CountItems(), 4, Precision)
	assert.Equal(t, 1, len(s))
	assert.Equal(t, float32(0.625), s[0])
	// an empty test set scores zero
	empty := dataset.NewDataset(time.Now(), 0, 0)
	s = Evaluate(context.Background(), m, empty, train, 4, 16, 4, Precision)
	assert.Equal(t, []float32{0}, s)
}

func TestEvaluateRating(t *testing.T) {
	test := dataset.NewDataset(time.Now(), 0, 0)
	test.AddFeedback("0", "0", 5)
	test.AddFeedback("0", "1", 4)
	test.AddFeedback("1", "0", 3)
	test.AddFeedback("1", "1", 1)
	// build a model predicting 3 + b_u + b_i
	m := NewMF(nil)
	m.GlobalMean = 3
	m.UserBias = []float32{1, -1}
	m.ItemBias = []float32{0.5, -0.5}
	m.UserFactor = [][]float32{{0}, {0}}
	m.ItemFactor = [][]float32{{0}, {0}}
	// predictions are 4.5, 3.5, 2.5 and 1.5
	s := EvaluateRating(context.Background(), m, test, 2)
	assert.InDelta(t, 0.5, s.RMSE, evalEpsilon)
	assert.InDelta(t, 0.5, s.MAE, evalEpsilon)
	assert.InDelta(t, 0.8857143, s.R2, evalEpsilon)
	assert.InDelta(t, 0.9142857, s.ExplainedVariance, evalEpsilon)
	// an empty test set scores zero
	empty := dataset.NewDataset(time.Now(), 0, 0)
	assert.Zero(t, EvaluateRating(context.Background(), m, empty, 2))
}
