// Copyright 2019 eBay Inc.
// Primary authors: Simon Fell, Diego Ongaro,
//                  Raymond Kroeker, and Sathish Kandasamy.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
// https://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package parallel

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
)

func Test_InvokeN(t *testing.T) {
	var calls int32
	seen := make([]int32, 5)
	err := InvokeN(context.Background(), 5, func(ctx context.Context, i int) error {
		atomic.AddInt32(&calls, 1)
		atomic.AddInt32(&seen[i], 1)
		return nil
	})
	assert.NoError(t, err)
	assert.EqualValues(t, 5, calls)
	assert.Equal(t, []int32{1, 1, 1, 1, 1}, seen)
}

func Test_InvokeN_cancelsOnError(t *testing.T) {
	err := InvokeN(context.Background(), 3, func(ctx context.Context, i int) error {
		if i == 1 {
			return errors.New("partition 1 failed")
		}
		<-ctx.Done()
		return ctx.Err()
	})
	assert.EqualError(t, err, "partition 1 failed")
}

func Test_Go(t *testing.T) {
	ran := false
	wait := Go(func() { ran = true })
	wait()
	wait()
	assert.True(t, ran)
}
