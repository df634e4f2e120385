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
	"bufio"
	"os"
	"strings"
	"time"

	"github.com/araddon/dateparse"
	"github.com/chewxy/math32"
	mapset "github.com/deckarep/golang-set/v2"
	"github.com/gorse-io/cfbench/base"
	"github.com/gorse-io/cfbench/common/util"
	"github.com/juju/errors"
)

// CFSplit is one split of a collaborative filtering dataset.
type CFSplit interface {
	// CountUsers returns the number of users.
	CountUsers() int
	// CountItems returns the number of items.
	CountItems() int
	// CountFeedback returns the number of ratings.
	CountFeedback() int
	// GetUserDict returns the dictionary of user ids.
	GetUserDict() *FreqDict
	// GetItemDict returns the dictionary of item ids.
	GetItemDict() *FreqDict
	// GetUserFeedback returns items rated by each user.
	GetUserFeedback() [][]int32
	// GetItemFeedback returns users who rated each item.
	GetItemFeedback() [][]int32
	// GetUserRatings returns rating values aligned with GetUserFeedback.
	GetUserRatings() [][]float32
	// GlobalMean returns the mean of all ratings.
	GlobalMean() float32
	// NegativeSample returns unrated items sampled for each user.
	NegativeSample(excludeSet CFSplit, numCandidates int) [][]int32
}

type Dataset struct {
	timestamp    time.Time
	userDict     *FreqDict
	itemDict     *FreqDict
	userFeedback [][]int32
	itemFeedback [][]int32
	userRatings  [][]float32
	negatives    [][]int32
	ratingSum    float64
	numFeedback  int
}

func NewDataset(timestamp time.Time, userCount, itemCount int) *Dataset {
	return &Dataset{
		timestamp:    timestamp,
		userDict:     NewFreqDict(),
		itemDict:     NewFreqDict(),
		userFeedback: make([][]int32, 0, userCount),
		itemFeedback: make([][]int32, 0, itemCount),
		userRatings:  make([][]float32, 0, userCount),
	}
}

func (d *Dataset) GetTimestamp() time.Time {
	return d.timestamp
}

func (d *Dataset) CountUsers() int {
	return int(d.userDict.Count())
}

func (d *Dataset) CountItems() int {
	return int(d.itemDict.Count())
}

func (d *Dataset) CountFeedback() int {
	return d.numFeedback
}

func (d *Dataset) GetUserDict() *FreqDict {
	return d.userDict
}

func (d *Dataset) GetItemDict() *FreqDict {
	return d.itemDict
}

func (d *Dataset) GetUserFeedback() [][]int32 {
	return d.userFeedback
}

func (d *Dataset) GetItemFeedback() [][]int32 {
	return d.itemFeedback
}

func (d *Dataset) GetUserRatings() [][]float32 {
	return d.userRatings
}

// GlobalMean returns the mean of all ratings.
func (d *Dataset) GlobalMean() float32 {
	if d.numFeedback == 0 {
		return 0
	}
	return float32(d.ratingSum / float64(d.numFeedback))
}

// AddUser registers a user without feedback.
func (d *Dataset) AddUser(userId string) {
	d.userDict.NotCount(userId)
	if len(d.userFeedback) < int(d.userDict.Count()) {
		d.userFeedback = append(d.userFeedback, nil)
		d.userRatings = append(d.userRatings, nil)
	}
}

// AddItem registers an item without feedback.
func (d *Dataset) AddItem(itemId string) {
	d.itemDict.NotCount(itemId)
	if len(d.itemFeedback) < int(d.itemDict.Count()) {
		d.itemFeedback = append(d.itemFeedback, nil)
	}
}

// AddFeedback adds a rating from a user to an item. Unseen users and items
// are registered on the fly.
func (d *Dataset) AddFeedback(userId, itemId string, rating float32) {
	userIndex := d.userDict.Add(userId)
	if len(d.userFeedback) < int(d.userDict.Count()) {
		d.userFeedback = append(d.userFeedback, nil)
		d.userRatings = append(d.userRatings, nil)
	}
	itemIndex := d.itemDict.Add(itemId)
	if len(d.itemFeedback) < int(d.itemDict.Count()) {
		d.itemFeedback = append(d.itemFeedback, nil)
	}
	d.userFeedback[userIndex] = append(d.userFeedback[userIndex], itemIndex)
	d.userRatings[userIndex] = append(d.userRatings[userIndex], rating)
	d.itemFeedback[itemIndex] = append(d.itemFeedback[itemIndex], userIndex)
	d.ratingSum += float64(rating)
	d.numFeedback++
}

func (d *Dataset) NegativeSample(excludeSet CFSplit, numCandidates int) [][]int32 {
	if len(d.negatives) == 0 {
		rng := base.NewRandomGenerator(0)
		d.negatives = make([][]int32, d.CountUsers())
		for userIndex := 0; userIndex < d.CountUsers(); userIndex++ {
			s1 := mapset.NewSet(d.GetUserFeedback()[userIndex]...)
			s2 := mapset.NewSet(excludeSet.GetUserFeedback()[userIndex]...)
			d.negatives[userIndex] = rng.SampleInt32(0, int32(d.CountItems()), numCandidates, s1, s2)
		}
	}
	return d.negatives
}

// share creates an empty dataset sharing the id space of d.
func (d *Dataset) share() *Dataset {
	return &Dataset{
		timestamp:    d.timestamp,
		userDict:     d.userDict,
		itemDict:     d.itemDict,
		userFeedback: make([][]int32, d.CountUsers()),
		itemFeedback: make([][]int32, d.CountItems()),
		userRatings:  make([][]float32, d.CountUsers()),
	}
}

// addIndexed adds a rating by dense indices. The indices must exist in the
// shared dictionaries.
func (d *Dataset) addIndexed(userIndex, itemIndex int32, rating float32) {
	d.userFeedback[userIndex] = append(d.userFeedback[userIndex], itemIndex)
	d.userRatings[userIndex] = append(d.userRatings[userIndex], rating)
	d.itemFeedback[itemIndex] = append(d.itemFeedback[itemIndex], userIndex)
	d.ratingSum += float64(rating)
	d.numFeedback++
}

// Split splits the dataset into a training set and a test set. For each user,
// ceil(testRatio*n) of the n ratings are held out for the test set, keeping
// at least one rating on each side. Users with a single rating stay in the
// training set. If numTestUsers is positive, ratings are held out from at
// most numTestUsers sampled users. Both splits share the id space of the
// original dataset.
func (d *Dataset) Split(testRatio float32, numTestUsers int, seed int64) (*Dataset, *Dataset) {
	trainSet, testSet := d.share(), d.share()
	rng := base.NewRandomGenerator(seed)
	if numTestUsers >= d.CountUsers() || numTestUsers <= 0 {
		for userIndex := int32(0); userIndex < int32(d.CountUsers()); userIndex++ {
			d.splitUser(userIndex, testRatio, rng, trainSet, testSet)
		}
	} else {
		testUsers := rng.SampleInt32(0, int32(d.CountUsers()), numTestUsers)
		for _, userIndex := range testUsers {
			d.splitUser(userIndex, testRatio, rng, trainSet, testSet)
		}
		testUserSet := mapset.NewSet(testUsers...)
		for userIndex := int32(0); userIndex < int32(d.CountUsers()); userIndex++ {
			if !testUserSet.Contains(userIndex) {
				for i, itemIndex := range d.userFeedback[userIndex] {
					trainSet.addIndexed(userIndex, itemIndex, d.userRatings[userIndex][i])
				}
			}
		}
	}
	return trainSet, testSet
}

func (d *Dataset) splitUser(userIndex int32, testRatio float32, rng base.RandomGenerator, trainSet, testSet *Dataset) {
	n := len(d.userFeedback[userIndex])
	if n < 2 {
		for i, itemIndex := range d.userFeedback[userIndex] {
			trainSet.addIndexed(userIndex, itemIndex, d.userRatings[userIndex][i])
		}
		return
	}
	k := int(math32.Ceil(testRatio * float32(n)))
	if k < 1 {
		k = 1
	} else if k > n-1 {
		k = n - 1
	}
	testIndices := mapset.NewSet(rng.SampleInt32(0, int32(n), k)...)
	for i, itemIndex := range d.userFeedback[userIndex] {
		if testIndices.Contains(int32(i)) {
			testSet.addIndexed(userIndex, itemIndex, d.userRatings[userIndex][i])
		} else {
			trainSet.addIndexed(userIndex, itemIndex, d.userRatings[userIndex][i])
		}
	}
}

// LoadDataFromCSV loads a rating dataset from a delimited text file. Each
// line is (userId, itemId, rating) with an optional timestamp column. The
// timestamp of the dataset is the latest feedback timestamp.
func LoadDataFromCSV(fileName, sep string, hasHeader bool) (*Dataset, error) {
	dataset := NewDataset(time.Time{}, 0, 0)
	// Open file
	file, err := os.Open(fileName)
	if err != nil {
		return nil, errors.Trace(err)
	}
	defer file.Close()
	// Read CSV file
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := scanner.Text()
		// Ignore header
		if hasHeader {
			hasHeader = false
			continue
		}
		fields := strings.Split(line, sep)
		// Ignore empty line
		if len(fields) < 3 {
			continue
		}
		rating, err := util.ParseFloat[float32](fields[2])
		if err != nil {
			return nil, errors.Trace(err)
		}
		dataset.AddFeedback(fields[0], fields[1], rating)
		if len(fields) > 3 {
			if timestamp, err := dateparse.ParseAny(fields[3]); err == nil && timestamp.After(dataset.timestamp) {
				dataset.timestamp = timestamp
			}
		}
	}
	if dataset.timestamp.IsZero() {
		dataset.timestamp = time.Now()
	}
	return dataset, scanner.Err()
}
