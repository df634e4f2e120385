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
	"encoding/binary"
	"fmt"
	"io"
	"reflect"
	"time"

	"github.com/bits-and-blooms/bitset"
	"github.com/c-bata/goptuna"
	"github.com/chewxy/math32"
	mapset "github.com/deckarep/golang-set/v2"
	"github.com/gorse-io/cfbench/base"
	"github.com/gorse-io/cfbench/base/copier"
	"github.com/gorse-io/cfbench/base/encoding"
	"github.com/gorse-io/cfbench/base/log"
	"github.com/gorse-io/cfbench/base/progress"
	"github.com/gorse-io/cfbench/common/floats"
	"github.com/gorse-io/cfbench/common/parallel"
	"github.com/gorse-io/cfbench/dataset"
	"github.com/gorse-io/cfbench/model"
	"github.com/juju/errors"
	"github.com/samber/lo"
	"go.uber.org/zap"
)

// Score records ranking metrics at FitConfig.TopK and, for explicit feedback
// models, rating metrics over the test triples. Implicit feedback models
// leave the rating metrics zero.
type Score struct {
	NDCG              float32
	Precision         float32
	Recall            float32
	MAP               float32
	RMSE              float32
	MAE               float32
	R2                float32
	ExplainedVariance float32
}

func (score Score) ZapFields() []zap.Field {
	return []zap.Field{
		zap.Float32("NDCG", score.NDCG),
		zap.Float32("Precision", score.Precision),
		zap.Float32("Recall", score.Recall),
		zap.Float32("MAP", score.MAP),
		zap.Float32("RMSE", score.RMSE),
		zap.Float32("MAE", score.MAE),
	}
}

func (score Score) GetValue() float32 {
	return score.NDCG
}

func (score Score) BetterThan(s Score) bool {
	return score.NDCG > s.NDCG
}

type FitConfig struct {
	Jobs       int
	Verbose    int
	Candidates int
	TopK       int
}

func NewFitConfig() *FitConfig {
	return &FitConfig{
		Jobs:       1,
		Verbose:    10,
		Candidates: 100,
		TopK:       10,
	}
}

func (config *FitConfig) SetVerbose(verbose int) *FitConfig {
	config.Verbose = verbose
	return config
}

func (config *FitConfig) SetJobs(jobs int) *FitConfig {
	config.Jobs = jobs
	return config
}

func (config *FitConfig) SetCandidates(candidates int) *FitConfig {
	config.Candidates = candidates
	return config
}

func (config *FitConfig) SetTopK(topK int) *FitConfig {
	config.TopK = topK
	return config
}

type Model interface {
	model.Model
	// Fit a model with a train set and parameters.
	Fit(ctx context.Context, trainSet, validateSet dataset.CFSplit, config *FitConfig) Score
	// GetItemIndex returns item index.
	GetItemIndex() *dataset.FreqDict
	// GetParamsGrid returns the default parameter grid for hyper-parameter search.
	GetParamsGrid(withSize bool) model.ParamsGrid
	// SuggestParams suggests hyper-parameters for a search trial.
	SuggestParams(trial goptuna.Trial) model.Params
	// Marshal model into byte stream.
	Marshal(w io.Writer) error
	// Unmarshal model from byte stream.
	Unmarshal(r io.Reader) error
	// GetUserFactor returns latent factor of a user.
	GetUserFactor(userIndex int32) []float32
	// GetItemFactor returns latent factor of an item.
	GetItemFactor(itemIndex int32) []float32
}

type MatrixFactorization interface {
	Model
	// Predict the rating given by a user (userId) to a item (itemId).
	Predict(userId, itemId string) float32
	// InternalPredict predicts rating given by a user index and a item index
	internalPredict(userIndex, itemIndex int32) float32
	// GetUserIndex returns user index.
	GetUserIndex() *dataset.FreqDict
	// GetItemIndex returns item index.
	GetItemIndex() *dataset.FreqDict
	// IsUserPredictable returns false if user has no feedback and its embedding vector never be trained.
	IsUserPredictable(userIndex int32) bool
	// IsItemPredictable returns false if item has no feedback and its embedding vector never be trained.
	IsItemPredictable(itemIndex int32) bool
	// Invalid returns true if the model is empty.
	Invalid() bool
	// Marshal model into byte stream.
	Marshal(w io.Writer) error
	// Unmarshal model from byte stream.
	Unmarshal(r io.Reader) error
}

type BaseMatrixFactorization struct {
	model.BaseModel
	UserIndex       *dataset.FreqDict
	ItemIndex       *dataset.FreqDict
	UserPredictable *bitset.BitSet
	ItemPredictable *bitset.BitSet
	// Model parameters
	UserFactor [][]float32 // p_u
	ItemFactor [][]float32 // q_i
}

func (baseModel *BaseMatrixFactorization) Init(trainSet dataset.CFSplit) {
	baseModel.UserIndex = trainSet.GetUserDict()
	baseModel.ItemIndex = trainSet.GetItemDict()
	// set user trained flags
	baseModel.UserPredictable = bitset.New(uint(baseModel.UserIndex.Count()))
	for userIndex := int32(0); userIndex < baseModel.UserIndex.Count(); userIndex++ {
		if len(trainSet.GetUserFeedback()[userIndex]) > 0 {
			baseModel.UserPredictable.Set(uint(userIndex))
		}
	}
	// set item trained flags
	baseModel.ItemPredictable = bitset.New(uint(baseModel.ItemIndex.Count()))
	for itemIndex := int32(0); itemIndex < baseModel.ItemIndex.Count(); itemIndex++ {
		if len(trainSet.GetItemFeedback()[itemIndex]) > 0 {
			baseModel.ItemPredictable.Set(uint(itemIndex))
		}
	}
}

func (baseModel *BaseMatrixFactorization) GetUserIndex() *dataset.FreqDict {
	return baseModel.UserIndex
}

func (baseModel *BaseMatrixFactorization) GetItemIndex() *dataset.FreqDict {
	return baseModel.ItemIndex
}

// IsUserPredictable returns false if user has no feedback and its embedding vector never be trained.
func (baseModel *BaseMatrixFactorization) IsUserPredictable(userIndex int32) bool {
	if userIndex >= baseModel.UserIndex.Count() || userIndex < 0 {
		return false
	}
	return baseModel.UserPredictable.Test(uint(userIndex))
}

// IsItemPredictable returns false if item has no feedback and its embedding vector never be trained.
func (baseModel *BaseMatrixFactorization) IsItemPredictable(itemIndex int32) bool {
	if itemIndex >= baseModel.ItemIndex.Count() || itemIndex < 0 {
		return false
	}
	return baseModel.ItemPredictable.Test(uint(itemIndex))
}

// GetUserFactor returns the latent factor of a user.
func (baseModel *BaseMatrixFactorization) GetUserFactor(userIndex int32) []float32 {
	return baseModel.UserFactor[userIndex]
}

// GetItemFactor returns the latent factor of an item.
func (baseModel *BaseMatrixFactorization) GetItemFactor(itemIndex int32) []float32 {
	return baseModel.ItemFactor[itemIndex]
}

func (baseModel *BaseMatrixFactorization) Predict(userId, itemId string) float32 {
	// Convert sparse Names to dense Names
	userIndex := baseModel.UserIndex.Id(userId)
	itemIndex := baseModel.ItemIndex.Id(itemId)
	if userIndex < 0 {
		log.Logger().Warn("unknown user", zap.String("user_id", userId))
	}
	if itemIndex < 0 {
		log.Logger().Warn("unknown item", zap.String("item_id", itemId))
	}
	return baseModel.internalPredict(userIndex, itemIndex)
}

func (baseModel *BaseMatrixFactorization) internalPredict(userIndex, itemIndex int32) float32 {
	ret := float32(0.0)
	if itemIndex >= 0 && userIndex >= 0 {
		ret = floats.Dot(baseModel.UserFactor[userIndex], baseModel.ItemFactor[itemIndex])
	} else {
		log.Logger().Warn("unknown user or item")
	}
	return ret
}

// numFactors returns the latent factor dimension. Zero if no factor was trained.
func (baseModel *BaseMatrixFactorization) numFactors() int {
	if len(baseModel.UserFactor) > 0 {
		return len(baseModel.UserFactor[0])
	}
	if len(baseModel.ItemFactor) > 0 {
		return len(baseModel.ItemFactor[0])
	}
	return 0
}

// Marshal model into byte stream. Only factors of predictable users and items
// are persisted, in increasing index order.
func (baseModel *BaseMatrixFactorization) Marshal(w io.Writer) error {
	// write params
	err := encoding.WriteGob(w, baseModel.Params)
	if err != nil {
		return errors.Trace(err)
	}
	// write factor dimension
	if err := binary.Write(w, binary.LittleEndian, int64(baseModel.numFactors())); err != nil {
		return errors.Trace(err)
	}
	// write predictable user count
	if err := binary.Write(w, binary.LittleEndian, int64(baseModel.UserPredictable.Count())); err != nil {
		return errors.Trace(err)
	}
	// write user latent factors
	for userIndex := int32(0); userIndex < baseModel.UserIndex.Count(); userIndex++ {
		if baseModel.UserPredictable.Test(uint(userIndex)) {
			userId, _ := baseModel.UserIndex.String(userIndex)
			if err := encoding.WriteString(w, userId); err != nil {
				return errors.Trace(err)
			}
			if err := encoding.WriteVector(w, baseModel.UserFactor[userIndex]); err != nil {
				return errors.Trace(err)
			}
		}
	}
	// write predictable item count
	if err := binary.Write(w, binary.LittleEndian, int64(baseModel.ItemPredictable.Count())); err != nil {
		return errors.Trace(err)
	}
	// write item latent factors
	for itemIndex := int32(0); itemIndex < baseModel.ItemIndex.Count(); itemIndex++ {
		if baseModel.ItemPredictable.Test(uint(itemIndex)) {
			itemId, _ := baseModel.ItemIndex.String(itemIndex)
			if err := encoding.WriteString(w, itemId); err != nil {
				return errors.Trace(err)
			}
			if err := encoding.WriteVector(w, baseModel.ItemFactor[itemIndex]); err != nil {
				return errors.Trace(err)
			}
		}
	}
	return nil
}

// Unmarshal model from byte stream. Indices are rebuilt from persisted
// entries, therefore only predictable users and items survive a round trip.
func (baseModel *BaseMatrixFactorization) Unmarshal(r io.Reader) error {
	// read params
	if err := encoding.ReadGob(r, &baseModel.Params); err != nil {
		return errors.Trace(err)
	}
	// read factor dimension
	var numFactors int64
	if err := binary.Read(r, binary.LittleEndian, &numFactors); err != nil {
		return errors.Trace(err)
	}
	// read predictable user count
	var userPredictableCount int64
	if err := binary.Read(r, binary.LittleEndian, &userPredictableCount); err != nil {
		return errors.Trace(err)
	}
	// read user latent factors
	baseModel.UserIndex = dataset.NewFreqDict()
	baseModel.UserPredictable = bitset.New(uint(userPredictableCount))
	baseModel.UserFactor = make([][]float32, userPredictableCount)
	for i := 0; i < int(userPredictableCount); i++ {
		userId, err := encoding.ReadString(r)
		if err != nil {
			return errors.Trace(err)
		}
		factor := make([]float32, numFactors)
		if err := encoding.ReadVector(r, factor); err != nil {
			return errors.Trace(err)
		}
		userIndex := baseModel.UserIndex.Add(userId)
		baseModel.UserPredictable.Set(uint(userIndex))
		baseModel.UserFactor[userIndex] = factor
	}
	// read predictable item count
	var itemPredictableCount int64
	if err := binary.Read(r, binary.LittleEndian, &itemPredictableCount); err != nil {
		return errors.Trace(err)
	}
	// read item latent factors
	baseModel.ItemIndex = dataset.NewFreqDict()
	baseModel.ItemPredictable = bitset.New(uint(itemPredictableCount))
	baseModel.ItemFactor = make([][]float32, itemPredictableCount)
	for i := 0; i < int(itemPredictableCount); i++ {
		itemId, err := encoding.ReadString(r)
		if err != nil {
			return errors.Trace(err)
		}
		factor := make([]float32, numFactors)
		if err := encoding.ReadVector(r, factor); err != nil {
			return errors.Trace(err)
		}
		itemIndex := baseModel.ItemIndex.Add(itemId)
		baseModel.ItemPredictable.Set(uint(itemIndex))
		baseModel.ItemFactor[itemIndex] = factor
	}
	return nil
}

func (baseModel *BaseMatrixFactorization) Clear() {
	baseModel.UserIndex = nil
	baseModel.ItemIndex = nil
	baseModel.ItemFactor = nil
	baseModel.UserFactor = nil
}

func (baseModel *BaseMatrixFactorization) Invalid() bool {
	return baseModel == nil ||
		baseModel.UserIndex == nil ||
		baseModel.ItemIndex == nil ||
		baseModel.ItemFactor == nil ||
		baseModel.UserFactor == nil
}

// Clone a model with deep copy.
func Clone(m MatrixFactorization) MatrixFactorization {
	var copied MatrixFactorization
	if err := copier.Copy(&copied, m); err != nil {
		panic(err)
	} else {
		copied.SetParams(copied.GetParams())
		return copied
	}
}

func GetModelName(m Model) string {
	switch m.(type) {
	case *MF:
		return "mf"
	case *BPR:
		return "bpr"
	default:
		return reflect.TypeOf(m).String()
	}
}

// NewModel creates a model by name.
func NewModel(name string, params model.Params) (MatrixFactorization, error) {
	switch name {
	case "mf":
		return NewMF(params), nil
	case "bpr":
		return NewBPR(params), nil
	}
	return nil, fmt.Errorf("unknown model %v", name)
}

func MarshalModel(w io.Writer, m Model) error {
	if err := encoding.WriteString(w, GetModelName(m)); err != nil {
		return errors.Trace(err)
	}
	if err := m.Marshal(w); err != nil {
		return errors.Trace(err)
	}
	return nil
}

func UnmarshalModel(r io.Reader) (MatrixFactorization, error) {
	name, err := encoding.ReadString(r)
	if err != nil {
		return nil, errors.Trace(err)
	}
	switch name {
	case "mf":
		var mf MF
		if err := mf.Unmarshal(r); err != nil {
			return nil, errors.Trace(err)
		}
		return &mf, nil
	case "bpr":
		var bpr BPR
		if err := bpr.Unmarshal(r); err != nil {
			return nil, errors.Trace(err)
		}
		return &bpr, nil
	}
	return nil, fmt.Errorf("unknown model %v", name)
}

// MF is the biased matrix factorization model for explicit feedback, as
// popularized by Simon Funk during the Netflix Prize. The rating \hat{r}_{ui}
// is estimated by:
//
//	\hat{r}_{ui} = \mu + b_u + b_i + q_i^T p_u
//
// If user u is unknown, the bias b_u and the factors p_u are assumed to be
// zero. The same applies for item i with b_i and q_i.
//
// Hyper-parameters:
//
//	 Reg 		- The regularization parameter of the cost function that is
//				  optimized. Default is 0.05.
//	 Lr 		- The learning rate of SGD. Default is 0.01.
//	 LrSchedule - The learning rate schedule, constant or cosine. Default is cosine.
//	 nFactors	- The number of latent factors. Default is 16.
//	 NEpochs	- The number of iteration of the SGD procedure. Default is 100.
//	 InitMean	- The mean of initial random latent factors. Default is 0.
//	 InitStdDev	- The standard deviation of initial random latent factors. Default is 0.01.
type MF struct {
	BaseMatrixFactorization
	// Model parameters
	UserBias   []float32 // b_u
	ItemBias   []float32 // b_i
	GlobalMean float32   // mu
	// Hyper parameters
	nFactors   int
	nEpochs    int
	lr         float32
	reg        float32
	initMean   float32
	initStdDev float32
	lrSchedule string
}

// NewMF creates a MF model.
func NewMF(params model.Params) *MF {
	mf := new(MF)
	mf.SetParams(params)
	return mf
}

// SetParams sets hyper-parameters of the MF model.
func (mf *MF) SetParams(params model.Params) {
	mf.BaseMatrixFactorization.SetParams(params)
	// Setup hyper-parameters
	mf.nFactors = mf.Params.GetInt(model.NFactors, 16)
	mf.nEpochs = mf.Params.GetInt(model.NEpochs, 100)
	mf.lr = mf.Params.GetFloat32(model.Lr, 0.01)
	mf.reg = mf.Params.GetFloat32(model.Reg, 0.05)
	mf.initMean = mf.Params.GetFloat32(model.InitMean, 0)
	mf.initStdDev = mf.Params.GetFloat32(model.InitStdDev, 0.01)
	mf.lrSchedule = mf.Params.GetString(model.LrSchedule, model.Cosine)
}

func (mf *MF) GetParamsGrid(withSize bool) model.ParamsGrid {
	return model.ParamsGrid{
		model.NFactors:   lo.If(withSize, []interface{}{8, 16, 32, 64}).Else([]interface{}{16}),
		model.Lr:         []interface{}{0.001, 0.005, 0.01, 0.05, 0.1},
		model.Reg:        []interface{}{0.001, 0.005, 0.01, 0.05, 0.1},
		model.InitMean:   []interface{}{0},
		model.InitStdDev: []interface{}{0.001, 0.005, 0.01, 0.05, 0.1},
		model.LrSchedule: []interface{}{model.Constant, model.Cosine},
	}
}

func (mf *MF) SuggestParams(trial goptuna.Trial) model.Params {
	return model.Params{
		model.NFactors:   int(lo.Must(trial.SuggestDiscreteFloat(string(model.NFactors), 8, 64, 8))),
		model.Lr:         lo.Must(trial.SuggestLogFloat(string(model.Lr), 0.001, 0.1)),
		model.Reg:        lo.Must(trial.SuggestLogFloat(string(model.Reg), 0.001, 0.1)),
		model.InitMean:   0,
		model.InitStdDev: lo.Must(trial.SuggestLogFloat(string(model.InitStdDev), 0.001, 0.1)),
		model.LrSchedule: lo.Must(trial.SuggestCategorical(string(model.LrSchedule), []string{model.Constant, model.Cosine})),
	}
}

// Fit the MF model. Its task complexity is O(mf.nEpochs).
func (mf *MF) Fit(ctx context.Context, trainSet, valSet dataset.CFSplit, config *FitConfig) Score {
	log.Logger().Info("fit mf",
		zap.Int("train_set_size", trainSet.CountFeedback()),
		zap.Int("test_set_size", valSet.CountFeedback()),
		zap.Any("params", mf.GetParams()),
		zap.Any("config", config))
	mf.Init(trainSet)
	// Flatten feedback into (user, item, rating) triples
	numFeedback := trainSet.CountFeedback()
	users := make([]int32, 0, numFeedback)
	items := make([]int32, 0, numFeedback)
	ratings := make([]float32, 0, numFeedback)
	for userIndex, feedback := range trainSet.GetUserFeedback() {
		for position, itemIndex := range feedback {
			users = append(users, int32(userIndex))
			items = append(items, itemIndex)
			ratings = append(ratings, trainSet.GetUserRatings()[userIndex][position])
		}
	}
	// Create buffers
	temp := base.NewMatrix32(config.Jobs, mf.nFactors)
	userFactor := base.NewMatrix32(config.Jobs, mf.nFactors)
	itemFactor := base.NewMatrix32(config.Jobs, mf.nFactors)
	evalStart := time.Now()
	scores := Evaluate(ctx, mf, valSet, trainSet, config.TopK, config.Candidates, config.Jobs, NDCG, Precision, Recall, MAP)
	ratingScore := EvaluateRating(ctx, mf, valSet, config.Jobs)
	evalTime := time.Since(evalStart)
	log.Logger().Debug(fmt.Sprintf("fit mf %v/%v", 0, mf.nEpochs),
		zap.String("eval_time", evalTime.String()),
		zap.Float32("RMSE", ratingScore.RMSE),
		zap.Float32(fmt.Sprintf("NDCG@%v", config.TopK), scores[0]))
	// Training
	_, span := progress.Start(ctx, "MF.Fit", mf.nEpochs)
	for epoch := 1; epoch <= mf.nEpochs; epoch++ {
		if ctx.Err() != nil {
			break
		}
		fitStart := time.Now()
		// Anneal the learning rate
		lr := mf.lr
		if mf.lrSchedule == model.Cosine {
			minLr := mf.lr / 100
			lr = minLr + (mf.lr-minLr)*(1+math32.Cos(math32.Pi*float32(epoch-1)/float32(mf.nEpochs)))/2
		}
		// Training epoch
		perm := mf.GetRandomGenerator().Perm(numFeedback)
		_ = parallel.Parallel(ctx, numFeedback, config.Jobs, func(workerId, jobId int) error {
			userIndex := users[perm[jobId]]
			itemIndex := items[perm[jobId]]
			rating := ratings[perm[jobId]]
			// Compute error: e_{ui} = r - \hat r
			grad := rating - mf.internalPredict(userIndex, itemIndex)
			// Update user bias: b_u <- b_u + \gamma (e_{ui} - \lambda b_u)
			mf.UserBias[userIndex] += lr * (grad - mf.reg*mf.UserBias[userIndex])
			// Update item bias: b_i <- b_i + \gamma (e_{ui} - \lambda b_i)
			mf.ItemBias[itemIndex] += lr * (grad - mf.reg*mf.ItemBias[itemIndex])
			copy(userFactor[workerId], mf.UserFactor[userIndex])
			copy(itemFactor[workerId], mf.ItemFactor[itemIndex])
			// Update user latent factor: p_u <- p_u + \gamma (e_{ui} q_i - \lambda p_u)
			floats.MulConstTo(itemFactor[workerId], grad, temp[workerId])
			floats.MulConstAdd(userFactor[workerId], -mf.reg, temp[workerId])
			floats.MulConstAdd(temp[workerId], lr, mf.UserFactor[userIndex])
			// Update item latent factor: q_i <- q_i + \gamma (e_{ui} p_u - \lambda q_i)
			floats.MulConstTo(userFactor[workerId], grad, temp[workerId])
			floats.MulConstAdd(itemFactor[workerId], -mf.reg, temp[workerId])
			floats.MulConstAdd(temp[workerId], lr, mf.ItemFactor[itemIndex])
			return nil
		})
		fitTime := time.Since(fitStart)
		// Cross validation
		if epoch%config.Verbose == 0 || epoch == mf.nEpochs {
			evalStart = time.Now()
			scores = Evaluate(ctx, mf, valSet, trainSet, config.TopK, config.Candidates, config.Jobs, NDCG, Precision, Recall, MAP)
			ratingScore = EvaluateRating(ctx, mf, valSet, config.Jobs)
			evalTime = time.Since(evalStart)
			log.Logger().Info(fmt.Sprintf("fit mf %v/%v", epoch, mf.nEpochs),
				zap.String("fit_time", fitTime.String()),
				zap.String("eval_time", evalTime.String()),
				zap.Float32("lr", lr),
				zap.Float32("RMSE", ratingScore.RMSE),
				zap.Float32(fmt.Sprintf("NDCG@%v", config.TopK), scores[0]))
		}
		span.Add(1)
	}
	span.End()
	log.Logger().Info("fit mf complete",
		zap.Float32("RMSE", ratingScore.RMSE),
		zap.Float32("MAE", ratingScore.MAE),
		zap.Float32(fmt.Sprintf("NDCG@%v", config.TopK), scores[0]),
		zap.Float32(fmt.Sprintf("MAP@%v", config.TopK), scores[3]))
	return Score{
		NDCG:              scores[0],
		Precision:         scores[1],
		Recall:            scores[2],
		MAP:               scores[3],
		RMSE:              ratingScore.RMSE,
		MAE:               ratingScore.MAE,
		R2:                ratingScore.R2,
		ExplainedVariance: ratingScore.ExplainedVariance,
	}
}

func (mf *MF) Init(trainSet dataset.CFSplit) {
	// Initialize parameters
	mf.GlobalMean = trainSet.GlobalMean()
	mf.UserBias = make([]float32, trainSet.CountUsers())
	mf.ItemBias = make([]float32, trainSet.CountItems())
	newUserFactor := mf.GetRandomGenerator().NormalMatrix(trainSet.CountUsers(), mf.nFactors, mf.initMean, mf.initStdDev)
	newItemFactor := mf.GetRandomGenerator().NormalMatrix(trainSet.CountItems(), mf.nFactors, mf.initMean, mf.initStdDev)
	// Initialize base
	mf.UserFactor = newUserFactor
	mf.ItemFactor = newItemFactor
	mf.BaseMatrixFactorization.Init(trainSet)
}

func (mf *MF) Predict(userId, itemId string) float32 {
	// Convert sparse Names to dense Names
	userIndex := mf.UserIndex.Id(userId)
	itemIndex := mf.ItemIndex.Id(itemId)
	if userIndex < 0 {
		log.Logger().Warn("unknown user", zap.String("user_id", userId))
	}
	if itemIndex < 0 {
		log.Logger().Warn("unknown item", zap.String("item_id", itemId))
	}
	return mf.internalPredict(userIndex, itemIndex)
}

func (mf *MF) internalPredict(userIndex, itemIndex int32) float32 {
	ret := mf.GlobalMean
	// + b_u
	if userIndex >= 0 {
		ret += mf.UserBias[userIndex]
	}
	// + b_i
	if itemIndex >= 0 {
		ret += mf.ItemBias[itemIndex]
	}
	// + q_i^T p_u
	if userIndex >= 0 && itemIndex >= 0 {
		ret += floats.Dot(mf.UserFactor[userIndex], mf.ItemFactor[itemIndex])
	}
	return ret
}

// Marshal model into byte stream. Biases of predictable users and items are
// appended after the base model in the same index order.
func (mf *MF) Marshal(w io.Writer) error {
	if err := mf.BaseMatrixFactorization.Marshal(w); err != nil {
		return errors.Trace(err)
	}
	// write global mean
	if err := binary.Write(w, binary.LittleEndian, mf.GlobalMean); err != nil {
		return errors.Trace(err)
	}
	// write user biases
	for userIndex := int32(0); userIndex < mf.UserIndex.Count(); userIndex++ {
		if mf.UserPredictable.Test(uint(userIndex)) {
			if err := binary.Write(w, binary.LittleEndian, mf.UserBias[userIndex]); err != nil {
				return errors.Trace(err)
			}
		}
	}
	// write item biases
	for itemIndex := int32(0); itemIndex < mf.ItemIndex.Count(); itemIndex++ {
		if mf.ItemPredictable.Test(uint(itemIndex)) {
			if err := binary.Write(w, binary.LittleEndian, mf.ItemBias[itemIndex]); err != nil {
				return errors.Trace(err)
			}
		}
	}
	return nil
}

// Unmarshal model from byte stream.
func (mf *MF) Unmarshal(r io.Reader) error {
	if err := mf.BaseMatrixFactorization.Unmarshal(r); err != nil {
		return errors.Trace(err)
	}
	mf.SetParams(mf.Params)
	// read global mean
	if err := binary.Read(r, binary.LittleEndian, &mf.GlobalMean); err != nil {
		return errors.Trace(err)
	}
	// read user biases
	mf.UserBias = make([]float32, mf.UserIndex.Count())
	if err := encoding.ReadVector(r, mf.UserBias); err != nil {
		return errors.Trace(err)
	}
	// read item biases
	mf.ItemBias = make([]float32, mf.ItemIndex.Count())
	if err := encoding.ReadVector(r, mf.ItemBias); err != nil {
		return errors.Trace(err)
	}
	return nil
}

func (mf *MF) Clear() {
	mf.BaseMatrixFactorization.Clear()
	mf.UserBias = nil
	mf.ItemBias = nil
	mf.GlobalMean = 0
}

func (mf *MF) Invalid() bool {
	return mf == nil ||
		mf.BaseMatrixFactorization.Invalid() ||
		mf.UserBias == nil ||
		mf.ItemBias == nil
}

// BPR means Bayesian Personal Ranking, is a pairwise learning algorithm for matrix factorization
// model with implicit feedback. The pairwise ranking between item i and j for user u is estimated
// by:
//
//	p(i >_u j) = \sigma( p_u^T (q_i - q_j) )
//
// Hyper-parameters:
//
//	 Reg 		- The regularization parameter of the cost function that is
//				  optimized. Default is 0.01.
//	 Lr 		- The learning rate of SGD. Default is 0.05.
//	 nFactors	- The number of latent factors. Default is 16.
//	 NEpochs	- The number of iteration of the SGD procedure. Default is 100.
//	 InitMean	- The mean of initial random latent factors. Default is 0.
//	 InitStdDev	- The standard deviation of initial random latent factors. Default is 0.001.
type BPR struct {
	BaseMatrixFactorization
	// Hyper parameters
	nFactors   int
	nEpochs    int
	lr         float32
	reg        float32
	initMean   float32
	initStdDev float32
}

// NewBPR creates a BPR model.
func NewBPR(params model.Params) *BPR {
	bpr := new(BPR)
	bpr.SetParams(params)
	return bpr
}

// SetParams sets hyper-parameters of the BPR model.
func (bpr *BPR) SetParams(params model.Params) {
	bpr.BaseMatrixFactorization.SetParams(params)
	// Setup hyper-parameters
	bpr.nFactors = bpr.Params.GetInt(model.NFactors, 16)
	bpr.nEpochs = bpr.Params.GetInt(model.NEpochs, 100)
	bpr.lr = bpr.Params.GetFloat32(model.Lr, 0.05)
	bpr.reg = bpr.Params.GetFloat32(model.Reg, 0.01)
	bpr.initMean = bpr.Params.GetFloat32(model.InitMean, 0)
	bpr.initStdDev = bpr.Params.GetFloat32(model.InitStdDev, 0.001)
}

func (bpr *BPR) GetParamsGrid(withSize bool) model.ParamsGrid {
	return model.ParamsGrid{
		model.NFactors:   lo.If(withSize, []interface{}{8, 16, 32, 64}).Else([]interface{}{16}),
		model.Lr:         []interface{}{0.001, 0.005, 0.01, 0.05, 0.1},
		model.Reg:        []interface{}{0.001, 0.005, 0.01, 0.05, 0.1},
		model.InitMean:   []interface{}{0},
		model.InitStdDev: []interface{}{0.001, 0.005, 0.01, 0.05, 0.1},
	}
}

func (bpr *BPR) SuggestParams(trial goptuna.Trial) model.Params {
	return model.Params{
		model.NFactors:   int(lo.Must(trial.SuggestDiscreteFloat(string(model.NFactors), 8, 64, 8))),
		model.Lr:         lo.Must(trial.SuggestLogFloat(string(model.Lr), 0.001, 0.1)),
		model.Reg:        lo.Must(trial.SuggestLogFloat(string(model.Reg), 0.001, 0.1)),
		model.InitMean:   0,
		model.InitStdDev: lo.Must(trial.SuggestLogFloat(string(model.InitStdDev), 0.001, 0.1)),
	}
}

// Fit the BPR model. Its task complexity is O(bpr.nEpochs).
func (bpr *BPR) Fit(ctx context.Context, trainSet, valSet dataset.CFSplit, config *FitConfig) Score {
	log.Logger().Info("fit bpr",
		zap.Int("train_set_size", trainSet.CountFeedback()),
		zap.Int("test_set_size", valSet.CountFeedback()),
		zap.Any("params", bpr.GetParams()),
		zap.Any("config", config))
	bpr.Init(trainSet)
	// Create buffers
	temp := base.NewMatrix32(config.Jobs, bpr.nFactors)
	userFactor := base.NewMatrix32(config.Jobs, bpr.nFactors)
	positiveItemFactor := base.NewMatrix32(config.Jobs, bpr.nFactors)
	negativeItemFactor := base.NewMatrix32(config.Jobs, bpr.nFactors)
	rng := make([]base.RandomGenerator, config.Jobs)
	for i := 0; i < config.Jobs; i++ {
		rng[i] = base.NewRandomGenerator(bpr.GetRandomGenerator().Int63())
	}
	// Convert array to hashmap
	userFeedback := make([]mapset.Set[int32], trainSet.CountUsers())
	for u := range userFeedback {
		userFeedback[u] = mapset.NewSet[int32]()
		for _, i := range trainSet.GetUserFeedback()[u] {
			userFeedback[u].Add(i)
		}
	}
	evalStart := time.Now()
	scores := Evaluate(ctx, bpr, valSet, trainSet, config.TopK, config.Candidates, config.Jobs, NDCG, Precision, Recall, MAP)
	evalTime := time.Since(evalStart)
	log.Logger().Debug(fmt.Sprintf("fit bpr %v/%v", 0, bpr.nEpochs),
		zap.String("eval_time", evalTime.String()),
		zap.Float32(fmt.Sprintf("NDCG@%v", config.TopK), scores[0]),
		zap.Float32(fmt.Sprintf("Precision@%v", config.TopK), scores[1]),
		zap.Float32(fmt.Sprintf("Recall@%v", config.TopK), scores[2]))
	// Training
	_, span := progress.Start(ctx, "BPR.Fit", bpr.nEpochs)
	for epoch := 1; epoch <= bpr.nEpochs; epoch++ {
		if ctx.Err() != nil {
			break
		}
		fitStart := time.Now()
		// Training epoch
		cost := make([]float32, config.Jobs)
		_ = parallel.Parallel(ctx, trainSet.CountFeedback(), config.Jobs, func(workerId, _ int) error {
			// Select a user
			var userIndex int32
			var ratingCount int
			for {
				userIndex = rng[workerId].Int31n(int32(trainSet.CountUsers()))
				ratingCount = len(trainSet.GetUserFeedback()[userIndex])
				if ratingCount > 0 {
					break
				}
			}
			posIndex := trainSet.GetUserFeedback()[userIndex][rng[workerId].Intn(ratingCount)]
			// Select a negative sample
			negIndex := int32(-1)
			for {
				temp := rng[workerId].Int31n(int32(trainSet.CountItems()))
				if !userFeedback[userIndex].Contains(temp) {
					negIndex = temp
					break
				}
			}
			diff := bpr.internalPredict(userIndex, posIndex) - bpr.internalPredict(userIndex, negIndex)
			cost[workerId] += math32.Log1p(math32.Exp(-diff))
			grad := math32.Exp(-diff) / (1.0 + math32.Exp(-diff))
			// Pairwise update
			copy(userFactor[workerId], bpr.UserFactor[userIndex])
			copy(positiveItemFactor[workerId], bpr.ItemFactor[posIndex])
			copy(negativeItemFactor[workerId], bpr.ItemFactor[negIndex])
			// Update positive item latent factor: +w_u
			floats.MulConstTo(userFactor[workerId], grad, temp[workerId])
			floats.MulConstAdd(positiveItemFactor[workerId], -bpr.reg, temp[workerId])
			floats.MulConstAdd(temp[workerId], bpr.lr, bpr.ItemFactor[posIndex])
			// Update negative item latent factor: -w_u
			floats.MulConstTo(userFactor[workerId], -grad, temp[workerId])
			floats.MulConstAdd(negativeItemFactor[workerId], -bpr.reg, temp[workerId])
			floats.MulConstAdd(temp[workerId], bpr.lr, bpr.ItemFactor[negIndex])
			// Update user latent factor: h_i-h_j
			floats.SubTo(positiveItemFactor[workerId], negativeItemFactor[workerId], temp[workerId])
			floats.MulConst(temp[workerId], grad)
			floats.MulConstAdd(userFactor[workerId], -bpr.reg, temp[workerId])
			floats.MulConstAdd(temp[workerId], bpr.lr, bpr.UserFactor[userIndex])
			return nil
		})
		fitTime := time.Since(fitStart)
		// Cross validation
		if epoch%config.Verbose == 0 || epoch == bpr.nEpochs {
			evalStart = time.Now()
			scores = Evaluate(ctx, bpr, valSet, trainSet, config.TopK, config.Candidates, config.Jobs, NDCG, Precision, Recall, MAP)
			evalTime = time.Since(evalStart)
			log.Logger().Info(fmt.Sprintf("fit bpr %v/%v", epoch, bpr.nEpochs),
				zap.String("fit_time", fitTime.String()),
				zap.String("eval_time", evalTime.String()),
				zap.Float32(fmt.Sprintf("NDCG@%v", config.TopK), scores[0]),
				zap.Float32(fmt.Sprintf("Precision@%v", config.TopK), scores[1]),
				zap.Float32(fmt.Sprintf("Recall@%v", config.TopK), scores[2]))
		}
		span.Add(1)
	}
	span.End()
	log.Logger().Info("fit bpr complete",
		zap.Float32(fmt.Sprintf("NDCG@%v", config.TopK), scores[0]),
		zap.Float32(fmt.Sprintf("Precision@%v", config.TopK), scores[1]),
		zap.Float32(fmt.Sprintf("Recall@%v", config.TopK), scores[2]))
	return Score{
		NDCG:      scores[0],
		Precision: scores[1],
		Recall:    scores[2],
		MAP:       scores[3],
	}
}

func (bpr *BPR) Init(trainSet dataset.CFSplit) {
	// Initialize parameters
	newUserFactor := bpr.GetRandomGenerator().NormalMatrix(trainSet.CountUsers(), bpr.nFactors, bpr.initMean, bpr.initStdDev)
	newItemFactor := bpr.GetRandomGenerator().NormalMatrix(trainSet.CountItems(), bpr.nFactors, bpr.initMean, bpr.initStdDev)
	// Initialize base
	bpr.UserFactor = newUserFactor
	bpr.ItemFactor = newItemFactor
	bpr.BaseMatrixFactorization.Init(trainSet)
}

// Marshal model into byte stream.
func (bpr *BPR) Marshal(w io.Writer) error {
	if err := bpr.BaseMatrixFactorization.Marshal(w); err != nil {
		return errors.Trace(err)
	}
	return nil
}

// Unmarshal model from byte stream.
func (bpr *BPR) Unmarshal(r io.Reader) error {
	if err := bpr.BaseMatrixFactorization.Unmarshal(r); err != nil {
		return errors.Trace(err)
	}
	bpr.SetParams(bpr.Params)
	return nil
}
