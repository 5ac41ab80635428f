package session

import (
	"time"

	"termplex/internal/supervisor"
)

// samplingDisabled is a last-sample time that never becomes old enough.
var samplingDisabled = time.Date(9999, time.December, 31, 0, 0, 0, 0, time.UTC)

// SampleDelimiters returns the markers printed before and after a private
// environment sample, so consumers can strip it from the transcript.
func (s *Session) SampleDelimiters() (begin, end string) {
	return s.sampleBOM, s.sampleEOM
}

// trySample injects the environment sampling command when the shell has been
// idle long enough. It reports true while a sample is in flight; input is
// held back until the sample's output arrives.
func (s *Session) trySample(ops supervisor.ProcessOperations) bool {
	if !s.info.TrackEnv() || s.info.HasChildProcs() {
		return false
	}

	now := s.deps.Now()

	s.mu.Lock()
	if s.sampling {
		if now.Sub(s.sampleStarted) < s.deps.Tuning.SampleTimeout {
			s.mu.Unlock()
			return true
		}
		s.sampling = false
		s.mu.Unlock()
		s.logf("environment sample produced no output, giving up on it")
		return false
	}
	if !s.sampleDue(now) {
		s.mu.Unlock()
		return false
	}
	s.lastSample = now
	s.sampleStarted = now
	s.sampling = true
	s.mu.Unlock()

	s.deliverMu.Lock()
	err := ops.WriteToStdin(s.sampleCommand, false)
	s.deliverMu.Unlock()
	if err != nil {
		s.logf("write environment sample: %v", err)
		s.mu.Lock()
		s.sampling = false
		s.lastSample = samplingDisabled
		s.mu.Unlock()
		return false
	}
	return true
}

// sampleDue applies the debounce gates. Called with mu held.
func (s *Session) sampleDue(now time.Time) bool {
	// Nothing submitted yet, or something is being typed.
	if s.pendingCommand || s.lastEnter.IsZero() {
		return false
	}
	if now.Sub(s.lastEnter) < s.deps.Tuning.SampleIdle {
		return false
	}
	if s.lastSample.IsZero() {
		return true
	}
	if now.Sub(s.lastSample) < s.deps.Tuning.SampleInterval {
		return false
	}
	// No new command since the previous sample.
	return !s.lastSample.After(s.lastEnter)
}

// SampleInProgress reports whether a private sample awaits its output.
func (s *Session) SampleInProgress() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sampling
}
