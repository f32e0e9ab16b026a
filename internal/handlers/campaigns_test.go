package handlers

import (
	"testing"

	"github.com/bulkwave/bulkwave/internal/models"
	"github.com/bulkwave/bulkwave/test/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func createEligibleTemplate(t *testing.T, a *App, sender *models.Sender, name string) {
	t.Helper()
	template := &models.Template{
		SenderID:    sender.ID,
		Name:        name,
		Language:    "en",
		Category:    models.TemplateCategoryUtility,
		Status:      models.TemplateStatusApproved,
		BodyContent: "Hello {{name}}!",
		IsActive:    true,
	}
	require.NoError(t, a.DB.Create(template).Error)
}

func TestCreateCampaignEndpoint(t *testing.T) {
	a := testApp(t)
	sender := createWebhookSender(t, a)
	createEligibleTemplate(t, a, sender, "tpl_a")
	createEligibleTemplate(t, a, sender, "tpl_b")

	req := testutil.NewJSONRequest(t, CampaignRequest{
		Name:          "API Campaign",
		SenderID:      sender.ID.String(),
		TemplateNames: []string{"tpl_a", "tpl_b"},
		CSVData:       "phone,name\n919876543210,Asha\n919876543211,Ravi\n919876543212,Meera\n",
	})
	require.NoError(t, a.CreateCampaign(req))
	require.Equal(t, 200, testutil.GetResponseStatusCode(req))

	var resp CampaignResponse
	testutil.ParseEnvelopeResponse(t, req, &resp)
	assert.Equal(t, "API Campaign", resp.Name)
	assert.Equal(t, 3, resp.TotalContacts)
	assert.Equal(t, "running", resp.Status)
	assert.Equal(t, []string{"tpl_a", "tpl_b"}, resp.TemplateNames)

	// Round-robin over two templates: 2 on the first, 1 on the second
	var entries []models.SendQueueEntry
	require.NoError(t, a.DB.Where("campaign_id = ?", resp.ID).Find(&entries).Error)
	require.Len(t, entries, 3)
}

func TestCreateCampaignEndpoint_ValidationErrors(t *testing.T) {
	a := testApp(t)
	sender := createWebhookSender(t, a)

	req := testutil.NewJSONRequest(t, CampaignRequest{
		Name:          "No templates",
		SenderID:      sender.ID.String(),
		TemplateNames: nil,
		CSVData:       "phone\n919876543210\n",
	})
	require.NoError(t, a.CreateCampaign(req))
	assert.Equal(t, 400, testutil.GetResponseStatusCode(req))

	bad := testutil.NewJSONRequest(t, CampaignRequest{
		Name:     "Bad sender",
		SenderID: "not-a-uuid",
	})
	require.NoError(t, a.CreateCampaign(bad))
	testutil.AssertErrorResponse(t, bad, 400, "Invalid sender ID")
}

func TestStopResumeEndpoints(t *testing.T) {
	a := testApp(t)
	sender := createWebhookSender(t, a)
	createEligibleTemplate(t, a, sender, "tpl_a")

	create := testutil.NewJSONRequest(t, CampaignRequest{
		Name:          "Lifecycle",
		SenderID:      sender.ID.String(),
		TemplateNames: []string{"tpl_a"},
		CSVData:       "phone\n919876543210\n",
	})
	require.NoError(t, a.CreateCampaign(create))
	var created CampaignResponse
	testutil.ParseEnvelopeResponse(t, create, &created)

	stop := testutil.NewJSONRequest(t, nil)
	testutil.SetPathParam(stop, "id", created.ID.String())
	require.NoError(t, a.StopCampaign(stop))
	assert.Equal(t, 200, testutil.GetResponseStatusCode(stop))

	var campaign models.Campaign
	require.NoError(t, a.DB.First(&campaign, "id = ?", created.ID).Error)
	assert.Equal(t, models.CampaignStatusPaused, campaign.Status)

	resume := testutil.NewJSONRequest(t, nil)
	testutil.SetPathParam(resume, "id", created.ID.String())
	require.NoError(t, a.ResumeCampaign(resume))
	assert.Equal(t, 200, testutil.GetResponseStatusCode(resume))

	require.NoError(t, a.DB.First(&campaign, "id = ?", created.ID).Error)
	assert.Equal(t, models.CampaignStatusRunning, campaign.Status)
}

func TestGetCampaignEndpoint_NotFound(t *testing.T) {
	a := testApp(t)

	req := testutil.NewGETRequest(t)
	testutil.SetPathParam(req, "id", "00000000-0000-0000-0000-000000000001")
	require.NoError(t, a.GetCampaign(req))
	assert.Equal(t, 404, testutil.GetResponseStatusCode(req))
}
