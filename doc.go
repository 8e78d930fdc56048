// Copyright 2020 Grail Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//    http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package plp provides a safe, forward-only iterator over the pileup columns
// produced by an external pileup engine (an implementation of the htslib
// bam_plp protocol, or anything shaped like it).
//
// The engine computes the columns and owns the memory backing them; this
// package converts the engine's pointer-and-sentinel iteration protocol into
// an Iter that yields borrowed Pileup views, surfaces the engine's single
// error condition as ErrGenerate, and guarantees the engine's two-step
// teardown (reset, then destroy) runs exactly once on every exit path.
//
// Pileup, Alignments, and Alignment are views over engine memory and are
// valid only until the next Scan or Close; retaining them longer panics.
package plp
