package certificate_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourorg/certificate-service/pkg/apperr"
	"github.com/yourorg/certificate-service/pkg/certificate"
	"github.com/yourorg/certificate-service/pkg/db/models"
)

func TestParseSort(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"", certificate.DefaultSort, false},
		{"code", "code ASC", false},
		{"expires_at desc", "expires_at DESC", false},
		{"USER_ID Asc", "user_id ASC", false},
		{"name", "", true},
		{"code sideways", "", true},
		{"code; DROP TABLE issues", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := certificate.ParseSort(tt.in)
			if tt.wantErr {
				_, ok := apperr.AsValidation(err)
				assert.True(t, ok)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestIssuesForTemplate(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	tpl5 := f.template(t, "Five", 5)
	tpl6 := f.template(t, "Six", 6)
	shared := f.template(t, "Shared", 0)
	for id := uint64(1); id <= 3; id++ {
		f.user(t, id, 5, "User", "Five")
	}
	f.user(t, 4, 6, "User", "Six")

	f.issue(t, tpl5.ID, 1)
	f.issue(t, tpl5.ID, 2)
	f.issue(t, tpl5.ID, 3)
	f.issue(t, tpl6.ID, 4)
	f.issue(t, shared.ID, 1)

	n, err := f.svc.CountIssuesForTemplate(ctx, viewer5, tpl5.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 3, n)

	n, err = f.svc.CountIssuesForTemplate(ctx, viewer5, 0)
	require.NoError(t, err)
	assert.EqualValues(t, 4, n)

	n, err = f.svc.CountIssuesForTemplate(ctx, viewerAll, 0)
	require.NoError(t, err)
	assert.EqualValues(t, 5, n)

	_, err = f.svc.CountIssuesForTemplate(ctx, viewer5, tpl6.ID)
	assert.True(t, apperr.IsPermission(err))

	_, err = f.svc.CountIssuesForTemplate(ctx, nobody, 0)
	assert.True(t, apperr.IsPermission(err))

	page, err := f.svc.GetIssuesForTemplate(ctx, viewer5, tpl5.ID, certificate.ListOptions{Limit: 2, Sort: "user_id ASC"})
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.EqualValues(t, 1, page[0].UserID)
	assert.EqualValues(t, 2, page[1].UserID)

	page, err = f.svc.GetIssuesForTemplate(ctx, viewer5, tpl5.ID, certificate.ListOptions{Offset: 2, Limit: 2, Sort: "user_id ASC"})
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.EqualValues(t, 3, page[0].UserID)

	_, err = f.svc.GetIssuesForTemplate(ctx, viewer5, tpl5.ID, certificate.ListOptions{Sort: "data"})
	_, ok := apperr.AsValidation(err)
	assert.True(t, ok)
}

func TestIssuesForUser(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	tpl5 := f.template(t, "Five", 5)
	tpl6 := f.template(t, "Six", 6)
	f.user(t, 1, 5, "Ada", "Lovelace")
	f.user(t, 106, 5, "No", "Body")

	f.issue(t, tpl5.ID, 1)
	f.issue(t, tpl6.ID, 1)
	f.issue(t, tpl6.ID, 106)

	n, err := f.svc.CountIssuesForUser(ctx, viewer5, 1)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	n, err = f.svc.CountIssuesForUser(ctx, viewerAll, 1)
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)

	n, err = f.svc.CountIssuesForUser(ctx, viewerAll, 0)
	require.NoError(t, err)
	assert.EqualValues(t, 3, n)

	// Own certificates are always visible, whatever their tenant
	own, err := f.svc.GetIssuesForUser(ctx, nobody, nobody.UserID, certificate.ListOptions{})
	require.NoError(t, err)
	require.Len(t, own, 1)
	assert.Equal(t, tpl6.ID, own[0].TemplateID)

	_, err = f.svc.GetIssuesForUser(ctx, nobody, 1, certificate.ListOptions{})
	assert.True(t, apperr.IsPermission(err))
}

func TestIssuesForCourse(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	tpl := f.template(t, "Course certificate", 5)
	for id := uint64(1); id <= 4; id++ {
		f.user(t, id, 5, "Student", "")
	}
	require.NoError(t, f.db.Create([]models.GroupMember{{GroupID: 7, UserID: 1}, {GroupID: 7, UserID: 3}}).Error)

	course := uint64(42)
	otherCourse := uint64(43)
	for _, uid := range []uint64{1, 2, 3} {
		_, err := f.svc.IssueCertificate(ctx, &certificate.IssueRequest{TemplateID: tpl.ID, UserID: uid, CourseID: &course, Component: "mod_coursecertificate"})
		require.NoError(t, err)
	}
	_, err := f.svc.IssueCertificate(ctx, &certificate.IssueRequest{TemplateID: tpl.ID, UserID: 4, CourseID: &otherCourse, Component: "mod_coursecertificate"})
	require.NoError(t, err)
	_, err = f.svc.IssueCertificate(ctx, &certificate.IssueRequest{TemplateID: tpl.ID, UserID: 4, CourseID: &course})
	require.NoError(t, err)

	q := certificate.CourseQuery{TemplateID: tpl.ID, CourseID: course, Component: "mod_coursecertificate"}
	n, err := f.svc.CountIssuesForCourse(ctx, q)
	require.NoError(t, err)
	assert.EqualValues(t, 3, n)

	q.GroupMode = certificate.SeparateGroups
	q.GroupID = 7
	issues, err := f.svc.GetIssuesForCourse(ctx, q, certificate.ListOptions{Sort: "user_id"})
	require.NoError(t, err)
	require.Len(t, issues, 2)
	assert.EqualValues(t, 1, issues[0].UserID)
	assert.EqualValues(t, 3, issues[1].UserID)

	q.GroupID = 8
	n, err = f.svc.CountIssuesForCourse(ctx, q)
	require.NoError(t, err)
	assert.EqualValues(t, 0, n)

	q.GroupMode = certificate.NoGroups
	n, err = f.svc.CountIssuesForCourse(ctx, q)
	require.NoError(t, err)
	assert.EqualValues(t, 3, n)

	n, err = f.svc.CountIssuesForCourse(ctx, certificate.CourseQuery{TemplateID: tpl.ID, CourseID: course})
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
}
