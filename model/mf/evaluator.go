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
	"math"

	"github.com/chewxy/math32"
	mapset "github.com/deckarep/golang-set/v2"
	"github.com/gorse-io/cfbench/common/floats"
	"github.com/gorse-io/cfbench/common/heap"
	"github.com/gorse-io/cfbench/common/parallel"
	"github.com/gorse-io/cfbench/dataset"
	"github.com/samber/lo"
	"gonum.org/v1/gonum/stat"
)

/* Evaluate Item Ranking */

// Metric is used by evaluators in personalized ranking tasks.
type Metric func(targetSet mapset.Set[int32], rankList []int32) float32

// Evaluate evaluates a model in top-n tasks. Users without positive feedback
// in the test set are skipped. If no user is evaluated, all scores are zero.
func Evaluate(ctx context.Context, estimator MatrixFactorization, testSet, trainSet dataset.CFSplit, topK, numCandidates, nJobs int, scorers ...Metric) []float32 {
	partSum := make([][]float32, nJobs)
	partCount := make([]float32, nJobs)
	for i := 0; i < nJobs; i++ {
		partSum[i] = make([]float32, len(scorers))
	}
	// For all UserFeedback
	negatives := testSet.NegativeSample(trainSet, numCandidates)
	_ = parallel.Parallel(ctx, testSet.CountUsers(), nJobs, func(workerId, userIndex int) error {
		// Find top-n ItemFeedback in test set
		targetSet := mapset.NewSet[int32](testSet.GetUserFeedback()[userIndex]...)
		if targetSet.Cardinality() > 0 {
			// Sample negative samples
			negativeSample := negatives[userIndex]
			candidates := make([]int32, 0, targetSet.Cardinality()+len(negativeSample))
			candidates = append(candidates, testSet.GetUserFeedback()[userIndex]...)
			candidates = append(candidates, negativeSample...)
			// Find top-n ItemFeedback in predictions
			rankList, _ := Rank(estimator, int32(userIndex), candidates, topK)
			partCount[workerId]++
			for i, metric := range scorers {
				partSum[workerId][i] += metric(targetSet, rankList)
			}
		}
		return nil
	})
	sum := make([]float32, len(scorers))
	for i := 0; i < nJobs; i++ {
		for j := range partSum[i] {
			sum[j] += partSum[i][j]
		}
	}
	count := lo.Sum(partCount)
	if count == 0 {
		return sum
	}
	floats.MulConst(sum, 1/count)
	return sum
}

// NDCG means Normalized Discounted Cumulative Gain.
func NDCG(targetSet mapset.Set[int32], rankList []int32) float32 {
	// IDCG = \sum^{|REL|}_{i=1} \frac {1} {\log_2(i+1)}
	idcg := float32(0)
	for i := 0; i < targetSet.Cardinality() && i < len(rankList); i++ {
		idcg += 1.0 / math32.Log2(float32(i)+2.0)
	}
	// DCG = \sum^{N}_{i=1} \frac {2^{rel_i}-1} {\log_2(i+1)}
	dcg := float32(0)
	for i, itemId := range rankList {
		if targetSet.Contains(itemId) {
			dcg += 1.0 / math32.Log2(float32(i)+2.0)
		}
	}
	return dcg / idcg
}

// Precision is the fraction of relevant ItemFeedback among the recommended ItemFeedback.
//
//	\frac{|relevant documents| \cap |retrieved documents|} {|{retrieved documents}|}
func Precision(targetSet mapset.Set[int32], rankList []int32) float32 {
	hit := float32(0)
	for _, itemId := range rankList {
		if targetSet.Contains(itemId) {
			hit++
		}
	}
	return hit / float32(len(rankList))
}

// Recall is the fraction of relevant ItemFeedback that have been recommended over the total
// amount of relevant ItemFeedback.
//
//	\frac{|relevant documents| \cap |retrieved documents|} {|{relevant documents}|}
func Recall(targetSet mapset.Set[int32], rankList []int32) float32 {
	hit := 0
	for _, itemId := range rankList {
		if targetSet.Contains(itemId) {
			hit++
		}
	}
	return float32(hit) / float32(targetSet.Cardinality())
}

// HR means Hit Ratio.
func HR(targetSet mapset.Set[int32], rankList []int32) float32 {
	for _, itemId := range rankList {
		if targetSet.Contains(itemId) {
			return 1
		}
	}
	return 0
}

// MAP means Mean Average Precision.
// mAP: http://sdsawtelle.github.io/blog/output/mean-average-precision-MAP-for-recommender-systems.html
func MAP(targetSet mapset.Set[int32], rankList []int32) float32 {
	sumPrecision := float32(0)
	hit := 0
	for i, itemId := range rankList {
		if targetSet.Contains(itemId) {
			hit++
			sumPrecision += float32(hit) / float32(i+1)
		}
	}
	return sumPrecision / float32(targetSet.Cardinality())
}

// MRR means Mean Reciprocal Rank.
//
// The mean reciprocal rank is a statistic measure for evaluating any process
// that produces a list of possible responses to a sample of queries, ordered
// by probability of correctness. The reciprocal rank of a query response is
// the multiplicative inverse of the rank of the first correct answer: 1 for
// first place, 1/2 for second place, 1/3 for third place and so on. The
// mean reciprocal rank is the average of the reciprocal ranks of results for
// a sample of queries Q:
//
//	MRR = \frac{1}{Q} \sum^{|Q|}_{i=1} \frac{1}{rank_i}
func MRR(targetSet mapset.Set[int32], rankList []int32) float32 {
	for i, itemId := range rankList {
		if targetSet.Contains(itemId) {
			return 1 / float32(i+1)
		}
	}
	return 0
}

// Rank ranks candidate items for a user and returns the top-n item indices
// with their scores in decreasing order.
func Rank(model MatrixFactorization, userId int32, candidates []int32, topN int) ([]int32, []float32) {
	// Get top-n list
	itemsHeap := heap.NewTopKFilter[int32, float32](topN)
	for _, itemId := range candidates {
		itemsHeap.Push(itemId, model.internalPredict(userId, itemId))
	}
	elems := itemsHeap.PopAll()
	recommends := make([]int32, len(elems))
	scores := make([]float32, len(elems))
	for i, elem := range elems {
		recommends[i] = elem.Value
		scores[i] = elem.Weight
	}
	return recommends, scores
}

/* Evaluate Rating Prediction */

// RatingScore records rating prediction metrics over test triples.
type RatingScore struct {
	RMSE              float32
	MAE               float32
	R2                float32
	ExplainedVariance float32
}

// EvaluateRating evaluates a model in rating prediction tasks. An empty test
// set yields zero scores.
func EvaluateRating(ctx context.Context, estimator MatrixFactorization, testSet dataset.CFSplit, nJobs int) RatingScore {
	// Flatten test feedback into triples
	userIndices := make([]int32, 0, testSet.CountFeedback())
	itemIndices := make([]int32, 0, testSet.CountFeedback())
	targets := make([]float64, 0, testSet.CountFeedback())
	for userIndex, feedback := range testSet.GetUserFeedback() {
		for position, itemIndex := range feedback {
			userIndices = append(userIndices, int32(userIndex))
			itemIndices = append(itemIndices, itemIndex)
			targets = append(targets, float64(testSet.GetUserRatings()[userIndex][position]))
		}
	}
	if len(targets) == 0 {
		return RatingScore{}
	}
	predictions := make([]float64, len(targets))
	_ = parallel.Parallel(ctx, len(targets), nJobs, func(_, jobId int) error {
		predictions[jobId] = float64(estimator.internalPredict(userIndices[jobId], itemIndices[jobId]))
		return nil
	})
	residuals := make([]float64, len(targets))
	var squaredSum, absSum float64
	for i := range targets {
		residuals[i] = targets[i] - predictions[i]
		squaredSum += residuals[i] * residuals[i]
		absSum += math.Abs(residuals[i])
	}
	n := float64(len(targets))
	score := RatingScore{
		RMSE: float32(math.Sqrt(squaredSum / n)),
		MAE:  float32(absSum / n),
	}
	// R2 and explained variance are undefined on constant targets.
	if variance := stat.Variance(targets, nil); variance > 0 {
		score.R2 = float32(stat.RSquaredFrom(predictions, targets, nil))
		score.ExplainedVariance = float32(1 - stat.Variance(residuals, nil)/variance)
	}
	return score
}
