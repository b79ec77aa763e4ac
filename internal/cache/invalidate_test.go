// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package cache

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

type recordingInvalidator struct{ keys [][]string }

func (r *recordingInvalidator) Invalidate(_ context.Context, keys ...string) {
	r.keys = append(r.keys, keys)
}

type recordingPublisher struct {
	keys []string
	err  error
}

func (p *recordingPublisher) Publish(_ context.Context, keys ...string) error {
	p.keys = append(p.keys, keys...)
	return p.err
}

func TestMulti_FansOut(t *testing.T) {
	a, b := &recordingInvalidator{}, &recordingInvalidator{}
	Multi{a, nil, b, Nop{}}.Invalidate(context.Background(), "world:w1")
	assert.Equal(t, [][]string{{"world:w1"}}, a.keys)
	assert.Equal(t, [][]string{{"world:w1"}}, b.keys)
}

func TestBroadcast_SwallowsPublishErrors(t *testing.T) {
	pub := &recordingPublisher{err: errors.New("redis down")}
	Broadcast{Publisher: pub}.Invalidate(context.Background(), "wg:w1:u1")
	assert.Equal(t, []string{"wg:w1:u1"}, pub.keys)

	pub.keys = nil
	Broadcast{Publisher: pub}.Invalidate(context.Background())
	assert.Nil(t, pub.keys)
}
