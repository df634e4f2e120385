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

package dataset

import (
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDataset_AddFeedback(t *testing.T) {
	dataSet := NewDataset(time.Now(), 0, 0)
	dataSet.AddFeedback("1", "a", 5)
	dataSet.AddFeedback("1", "b", 3)
	dataSet.AddFeedback("2", "b", 1)
	assert.Equal(t, 2, dataSet.CountUsers())
	assert.Equal(t, 2, dataSet.CountItems())
	assert.Equal(t, 3, dataSet.CountFeedback())
	assert.Equal(t, [][]int32{{0, 1}, {1}}, dataSet.GetUserFeedback())
	assert.Equal(t, [][]int32{{0}, {0, 1}}, dataSet.GetItemFeedback())
	assert.Equal(t, [][]float32{{5, 3}, {1}}, dataSet.GetUserRatings())
	assert.InDelta(t, 3.0, dataSet.GlobalMean(), 1e-6)
}

func TestDataset_AddUser(t *testing.T) {
	dataSet := NewDataset(time.Now(), 0, 0)
	dataSet.AddUser("1")
	dataSet.AddUser("1")
	dataSet.AddItem("a")
	assert.Equal(t, 1, dataSet.CountUsers())
	assert.Equal(t, 1, dataSet.CountItems())
	assert.Empty(t, dataSet.GetUserFeedback()[0])
	assert.Empty(t, dataSet.GetItemFeedback()[0])
	dataSet.AddFeedback("1", "a", 4)
	assert.Equal(t, 1, dataSet.CountUsers())
	assert.Equal(t, [][]int32{{0}}, dataSet.GetUserFeedback())
	assert.Equal(t, float32(4), dataSet.GlobalMean())
}

func TestDataset_Split(t *testing.T) {
	dataSet := NewDataset(time.Now(), 0, 0)
	for i := 0; i < 10; i++ {
		user := strconv.Itoa(i)
		for j := 0; j < 5; j++ {
			dataSet.AddFeedback(user, strconv.Itoa(j), float32(j+1))
		}
	}
	// a user with a single rating stays in the training set
	dataSet.AddFeedback("10", "0", 5)
	trainSet, testSet := dataSet.Split(0.2, 0, 0)
	// both splits share the id space
	assert.Equal(t, 11, trainSet.CountUsers())
	assert.Equal(t, 11, testSet.CountUsers())
	assert.Equal(t, 5, trainSet.CountItems())
	assert.Equal(t, 5, testSet.CountItems())
	assert.Same(t, dataSet.GetUserDict(), trainSet.GetUserDict())
	assert.Same(t, dataSet.GetItemDict(), testSet.GetItemDict())
	// each user holds out ceil(0.2*5) = 1 rating
	for userIndex := 0; userIndex < 10; userIndex++ {
		assert.Len(t, trainSet.GetUserFeedback()[userIndex], 4)
		assert.Len(t, testSet.GetUserFeedback()[userIndex], 1)
	}
	assert.Len(t, trainSet.GetUserFeedback()[10], 1)
	assert.Empty(t, testSet.GetUserFeedback()[10])
	assert.Equal(t, 41, trainSet.CountFeedback())
	assert.Equal(t, 10, testSet.CountFeedback())
	// ratings follow their items
	for userIndex, items := range testSet.GetUserFeedback() {
		for i, itemIndex := range items {
			assert.Equal(t, float32(itemIndex+1), testSet.GetUserRatings()[userIndex][i])
		}
	}
}

func TestDataset_SplitNumTestUsers(t *testing.T) {
	dataSet := NewDataset(time.Now(), 0, 0)
	for i := 0; i < 10; i++ {
		user := strconv.Itoa(i)
		for j := 0; j < 4; j++ {
			dataSet.AddFeedback(user, strconv.Itoa(j), 3)
		}
	}
	trainSet, testSet := dataSet.Split(0.25, 3, 42)
	testedUsers := 0
	for userIndex := range testSet.GetUserFeedback() {
		if len(testSet.GetUserFeedback()[userIndex]) > 0 {
			testedUsers++
			assert.Len(t, testSet.GetUserFeedback()[userIndex], 1)
			assert.Len(t, trainSet.GetUserFeedback()[userIndex], 3)
		} else {
			assert.Len(t, trainSet.GetUserFeedback()[userIndex], 4)
		}
	}
	assert.Equal(t, 3, testedUsers)
	assert.Equal(t, dataSet.CountFeedback(), trainSet.CountFeedback()+testSet.CountFeedback())
}

func TestDataset_NegativeSample(t *testing.T) {
	dataSet := NewDataset(time.Now(), 0, 0)
	for i := 0; i < 4; i++ {
		user := strconv.Itoa(i)
		for j := 0; j < 8; j++ {
			dataSet.AddFeedback(user, strconv.Itoa((i*4+j)%16), 3)
		}
	}
	trainSet, testSet := dataSet.Split(0.25, 0, 0)
	negatives := testSet.NegativeSample(trainSet, 4)
	assert.Len(t, negatives, 4)
	for userIndex, negative := range negatives {
		assert.Len(t, negative, 4)
		rated := mapset.NewSet(dataSet.GetUserFeedback()[userIndex]...)
		for _, itemIndex := range negative {
			assert.False(t, rated.Contains(itemIndex))
		}
	}
	// samples are cached
	assert.Equal(t, negatives, testSet.NegativeSample(trainSet, 4))
}

func TestLoadDataFromCSV(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ratings.csv")
	require.NoError(t, os.WriteFile(path, []byte(
		"user_id,item_id,rating,timestamp\n"+
			"1,100,5,1684814400\n"+
			"1,101,3,1684900800\n"+
			"2,100,4,1684987200\n"), os.ModePerm))
	dataSet, err := LoadDataFromCSV(path, ",", true)
	assert.NoError(t, err)
	assert.Equal(t, 2, dataSet.CountUsers())
	assert.Equal(t, 2, dataSet.CountItems())
	assert.Equal(t, 3, dataSet.CountFeedback())
	assert.Equal(t, [][]float32{{5, 3}, {4}}, dataSet.GetUserRatings())
	assert.InDelta(t, 4.0, dataSet.GlobalMean(), 1e-6)
	assert.True(t, dataSet.GetTimestamp().Equal(time.Unix(1684987200, 0)))
}

func TestLoadDataFromCSVError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ratings.csv")
	require.NoError(t, os.WriteFile(path, []byte("1,100,bad\n"), os.ModePerm))
	_, err := LoadDataFromCSV(path, ",", false)
	assert.Error(t, err)
}

func TestLoadDataFromBuiltIn(t *testing.T) {
	assert.Contains(t, BuiltinDatasets(), "ml-100k")
	_, err := LoadDataFromBuiltIn("unknown-dataset")
	assert.Error(t, err)
}
