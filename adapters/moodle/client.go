package moodle

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/luno/jettison/errors"
	"github.com/luno/jettison/j"

	"github.com/mindworx/sor"
)

// Client submits files and grades to Moodle assignments via the webservice
// API. The target ID passed through sor.GradingTarget is the assignment ID.
type Client struct {
	baseURL string
	token   string
	httpCl  *http.Client
}

type ClientOption func(*Client)

func WithHTTPClient(cl *http.Client) ClientOption {
	return func(c *Client) {
		c.httpCl = cl
	}
}

func NewClient(baseURL, token string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		token:   token,
		httpCl:  http.DefaultClient,
	}
	for _, opt := range opts {
		opt(c)
	}

	return c
}

var _ sor.GradingTarget = (*Client)(nil)

// SubmitFile uploads the document into the user's draft area and then saves
// it as the learner's assignment submission.
func (c *Client) SubmitFile(ctx context.Context, documentPath string, learnerID, targetID int64) (*sor.Submission, error) {
	itemID, filename, err := c.uploadDraft(ctx, documentPath)
	if err != nil {
		return nil, err
	}

	draft := strconv.FormatInt(itemID, 10)
	_, err = c.wsCall(ctx, "mod_assign_save_submission", url.Values{
		"assignmentid": {strconv.FormatInt(targetID, 10)},
		"userid":       {strconv.FormatInt(learnerID, 10)},
		"plugindata[files_filemanager]":                  {draft},
		"plugindata[assignsubmission_file_filemanager]":  {draft},
	})
	if err != nil {
		return nil, err
	}

	return &sor.Submission{
		Filename:     filename,
		Method:       "web_service",
		SubmissionID: itemID,
	}, nil
}

// SetGrade saves one grade with released workflow state and the feedback as
// a comment.
func (c *Client) SetGrade(ctx context.Context, learnerID, targetID int64, score float64, feedback string) error {
	_, err := c.wsCall(ctx, "mod_assign_save_grade", url.Values{
		"assignmentid":  {strconv.FormatInt(targetID, 10)},
		"userid":        {strconv.FormatInt(learnerID, 10)},
		"grade":         {fmt.Sprintf("%.2f", score)},
		"attemptnumber": {"-1"},
		"addattempt":    {"0"},
		"workflowstate": {"released"},
		"applytoall":    {"0"},
		"plugindata[assignfeedbackcomments_editor][text]":   {feedback},
		"plugindata[assignfeedbackcomments_editor][format]": {"1"},
	})
	return err
}

// SetGrades saves each grade in turn. Moodle has no batch grading endpoint,
// so failure is reported per item and a broken grade never blocks the rest.
func (c *Client) SetGrades(ctx context.Context, targetID int64, grades []sor.Grade) ([]sor.GradeResult, error) {
	results := make([]sor.GradeResult, 0, len(grades))
	for _, grade := range grades {
		res := sor.GradeResult{LearnerID: grade.LearnerID, OK: true}

		err := c.SetGrade(ctx, grade.LearnerID, targetID, grade.Score, grade.Feedback)
		if err != nil {
			// NoReturnErr: reported per item.
			res.OK = false
			res.Message = err.Error()
		}

		results = append(results, res)
	}

	return results, nil
}

// uploadDraft pushes the file into Moodle's draft file area and returns the
// draft item ID to hand to the submission call.
func (c *Client) uploadDraft(ctx context.Context, documentPath string) (int64, string, error) {
	f, err := os.Open(documentPath)
	if err != nil {
		return 0, "", errors.Wrap(err, "open document", j.KV("path", documentPath))
	}
	defer f.Close()

	filename := filepath.Base(documentPath)

	var body strings.Builder
	w := multipart.NewWriter(&body)

	part, err := w.CreateFormFile("file_1", filename)
	if err != nil {
		return 0, "", errors.Wrap(err, "")
	}
	_, err = io.Copy(part, f)
	if err != nil {
		return 0, "", errors.Wrap(err, "read document", j.KV("path", documentPath))
	}

	for key, value := range map[string]string{
		"token":    c.token,
		"filearea": "draft",
		"itemid":   "0",
	} {
		err := w.WriteField(key, value)
		if err != nil {
			return 0, "", errors.Wrap(err, "")
		}
	}

	err = w.Close()
	if err != nil {
		return 0, "", errors.Wrap(err, "")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/webservice/upload.php", strings.NewReader(body.String()))
	if err != nil {
		return 0, "", errors.Wrap(err, "")
	}
	req.Header.Set("Content-Type", w.FormDataContentType())

	httpResp, err := c.httpCl.Do(req)
	if err != nil {
		return 0, "", errors.Wrap(sor.ErrProviderUnavailable, err.Error())
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusOK {
		return 0, "", errors.Wrap(sor.ErrProviderUnavailable, "draft upload failed",
			j.KV("code", httpResp.StatusCode))
	}

	var uploaded []struct {
		ItemID int64 `json:"itemid"`
	}
	err = json.NewDecoder(httpResp.Body).Decode(&uploaded)
	if err != nil || len(uploaded) == 0 {
		return 0, "", errors.Wrap(sor.ErrProviderUnavailable, "unexpected upload response")
	}

	return uploaded[0].ItemID, filename, nil
}

// wsCall makes one Moodle REST webservice call. Moodle reports errors as a
// 200 response carrying an exception object.
func (c *Client) wsCall(ctx context.Context, function string, params url.Values) (json.RawMessage, error) {
	form := url.Values{
		"wstoken":            {c.token},
		"wsfunction":         {function},
		"moodlewsrestformat": {"json"},
	}
	for key, values := range params {
		form[key] = values
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/webservice/rest/server.php", strings.NewReader(form.Encode()))
	if err != nil {
		return nil, errors.Wrap(err, "")
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	httpResp, err := c.httpCl.Do(req)
	if err != nil {
		return nil, errors.Wrap(sor.ErrProviderUnavailable, err.Error(), j.KV("function", function))
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusOK {
		return nil, errors.Wrap(sor.ErrProviderUnavailable, "webservice call failed", j.MKV{
			"function": function,
			"code":     httpResp.StatusCode,
		})
	}

	raw, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, errors.Wrap(sor.ErrProviderUnavailable, "read response", j.KV("function", function))
	}

	var exc struct {
		Exception string `json:"exception"`
		Message   string `json:"message"`
	}
	if json.Unmarshal(raw, &exc) == nil && exc.Exception != "" {
		return nil, errors.Wrap(sor.ErrProviderUnavailable, exc.Message, j.MKV{
			"function":  function,
			"exception": exc.Exception,
		})
	}

	return raw, nil
}
