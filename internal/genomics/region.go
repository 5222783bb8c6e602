// Copyright 2017 Google Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// https://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package genomics contains definitions related to genomic coordinates.
package genomics

import (
	"fmt"
	"math"
)

// AllRecords defines a Region that matches every record of a file.
var AllRecords = Region{Start: 0, End: math.MaxInt64}

// Region defines a range of base pair coordinates on a single chromosome.
// Both Start and End are inclusive.
type Region struct {
	Start, End int64
}

// Contains reports whether coordinate lies inside the region.
func (region Region) Contains(coordinate int64) bool {
	return coordinate >= region.Start && coordinate <= region.End
}

// Empty reports whether the region matches no coordinate.
func (region Region) Empty() bool {
	return region.Start > region.End
}

func (region Region) String() string {
	return fmt.Sprintf("[start:%d, end:%d]", region.Start, region.End)
}
