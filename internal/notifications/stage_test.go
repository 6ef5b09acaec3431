package notifications

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStage_String(t *testing.T) {
	tests := []struct {
		stage    Stage
		expected string
	}{
		{StageValidation, "Validation"},
		{StageTargetLookup, "TargetLookup"},
		{StageTemplateLookup, "TemplateLookup"},
		{StageRender, "Render"},
		{StageQueue, "DbWrite"},
		{StageSend, "HttpSend"},
		{StageFinalize, "DbWrite"},
		{stageDone, "Done"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.stage.String())
		})
	}
}

func TestStage_JSON(t *testing.T) {
	stage := StageTargetLookup
	data, err := json.Marshal(SendResult{Stage: &stage})
	require.NoError(t, err)
	assert.Contains(t, string(data), `"stage":"TargetLookup"`)

	data, err = json.Marshal(SendResult{Success: true})
	require.NoError(t, err)
	assert.Contains(t, string(data), `"stage":null`)
}

func TestStage_Next(t *testing.T) {
	assert.Equal(t, StageTargetLookup, StageValidation.next())
	assert.Equal(t, stageDone, StageFinalize.next())
	assert.Equal(t, stageDone, stageDone.next())
}

func fullPipeline(ran *[]Stage, failAt Stage, err error) pipeline {
	var p pipeline
	for s := StageValidation; s < stageDone; s++ {
		stage := s
		p = append(p, step{stage, func(context.Context) error {
			*ran = append(*ran, stage)
			if stage == failAt {
				return err
			}
			return nil
		}})
	}
	return p
}

func TestPipeline_Run(t *testing.T) {
	t.Run("all stages succeed", func(t *testing.T) {
		var ran []Stage
		se := fullPipeline(&ran, stageDone, nil).run(context.Background())

		assert.Nil(t, se)
		assert.Len(t, ran, int(stageDone))
	})

	t.Run("first failure stops the pipeline", func(t *testing.T) {
		var ran []Stage
		se := fullPipeline(&ran, StageRender, errBoom).run(context.Background())

		require.NotNil(t, se)
		assert.Equal(t, StageRender, se.Stage)
		assert.ErrorIs(t, se, errBoom)
		assert.Equal(t, []Stage{StageValidation, StageTargetLookup, StageTemplateLookup, StageRender}, ran)
	})

	t.Run("stage error from step is kept", func(t *testing.T) {
		code := 403
		var ran []Stage
		stepErr := &StageError{Stage: StageSend, Err: errBoom, HTTPStatus: &code}
		se := fullPipeline(&ran, StageSend, stepErr).run(context.Background())

		require.NotNil(t, se)
		assert.Same(t, stepErr, se)
		assert.Equal(t, 403, *se.HTTPStatus)
	})

	t.Run("out of order steps are rejected", func(t *testing.T) {
		p := pipeline{
			{StageValidation, func(context.Context) error { return nil }},
			{StageRender, func(context.Context) error { return nil }},
		}
		se := p.run(context.Background())

		require.NotNil(t, se)
		assert.Equal(t, StageTargetLookup, se.Stage)
	})

	t.Run("short pipeline is rejected", func(t *testing.T) {
		p := pipeline{
			{StageValidation, func(context.Context) error { return nil }},
		}
		se := p.run(context.Background())

		require.NotNil(t, se)
		assert.Equal(t, StageTargetLookup, se.Stage)
	})
}

func TestStageError(t *testing.T) {
	se := &StageError{Stage: StageTemplateLookup, Err: ErrTemplateNotFound}

	assert.Equal(t, "TemplateLookup: template not found", se.Error())
	assert.True(t, errors.Is(se, ErrTemplateNotFound))
}
