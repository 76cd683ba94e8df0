package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSourceDomainStatusConstants(t *testing.T) {
	assert.Equal(t, SourceDomainStatus("new"), SourceDomainNew)
	assert.Equal(t, SourceDomainStatus("pending_submission"), SourceDomainPendingSubmission)
	assert.Equal(t, SourceDomainStatus("submitted_to_crawler"), SourceDomainSubmitted)
}
