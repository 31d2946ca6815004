// Package hellosign implements the signature provider against the Dropbox
// Sign (formerly HelloSign) v3 REST API.
package hellosign

import (
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/luno/jettison/errors"
	"github.com/luno/jettison/j"

	"github.com/mindworx/sor"
)

const defaultBaseURL = "https://api.hellosign.com/v3"

type Client struct {
	apiKey  string
	baseURL string
	httpCl  *http.Client

	// testMode requests are free and never legally binding.
	testMode bool
}

type Option func(*Client)

// WithBaseURL points the client at a different API host, used in tests.
func WithBaseURL(u string) Option {
	return func(c *Client) {
		c.baseURL = strings.TrimSuffix(u, "/")
	}
}

func WithHTTPClient(cl *http.Client) Option {
	return func(c *Client) {
		c.httpCl = cl
	}
}

func WithTestMode() Option {
	return func(c *Client) {
		c.testMode = true
	}
}

func New(apiKey string, opts ...Option) *Client {
	c := &Client{
		apiKey:  apiKey,
		baseURL: defaultBaseURL,
		httpCl:  http.DefaultClient,
	}
	for _, opt := range opts {
		opt(c)
	}

	return c
}

var _ sor.SignatureProvider = (*Client)(nil)

type signatureRequest struct {
	SignatureRequestID string `json:"signature_request_id"`
	IsComplete         bool   `json:"is_complete"`
}

type apiResponse struct {
	SignatureRequest signatureRequest `json:"signature_request"`
	Error            *apiError        `json:"error"`
}

type apiError struct {
	Name string `json:"error_name"`
	Msg  string `json:"error_msg"`
}

// Send routes the document for signature and returns the provider assigned
// signature request ID.
func (c *Client) Send(ctx context.Context, documentPath, signerName, signerEmail string) (string, error) {
	f, err := os.Open(documentPath)
	if err != nil {
		return "", errors.Wrap(err, "open document", j.KV("path", documentPath))
	}
	defer f.Close()

	var body strings.Builder
	w := multipart.NewWriter(&body)

	part, err := w.CreateFormFile("file[0]", filepath.Base(documentPath))
	if err != nil {
		return "", errors.Wrap(err, "")
	}
	_, err = io.Copy(part, f)
	if err != nil {
		return "", errors.Wrap(err, "read document", j.KV("path", documentPath))
	}

	fields := map[string]string{
		"title":                     "Statement of Results - Signature Required",
		"subject":                   "Please sign your Statement of Results",
		"message":                   "Dear " + signerName + ",\n\nPlease review and sign your Statement of Results.",
		"signers[0][email_address]": signerEmail,
		"signers[0][name]":          signerName,
	}
	if c.testMode {
		fields["test_mode"] = "1"
	}
	for key, value := range fields {
		err := w.WriteField(key, value)
		if err != nil {
			return "", errors.Wrap(err, "")
		}
	}

	err = w.Close()
	if err != nil {
		return "", errors.Wrap(err, "")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/signature_request/send", strings.NewReader(body.String()))
	if err != nil {
		return "", errors.Wrap(err, "")
	}
	req.Header.Set("Content-Type", w.FormDataContentType())
	req.SetBasicAuth(c.apiKey, "")

	var resp apiResponse
	err = c.do(req, &resp)
	if err != nil {
		return "", err
	}

	if resp.SignatureRequest.SignatureRequestID == "" {
		return "", errors.Wrap(sor.ErrProviderUnavailable, "no signature request id in response")
	}

	return resp.SignatureRequest.SignatureRequestID, nil
}

// Poll reports whether every signer has completed the request.
func (c *Client) Poll(ctx context.Context, ref string) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.baseURL+"/signature_request/"+ref, nil)
	if err != nil {
		return false, errors.Wrap(err, "")
	}
	req.SetBasicAuth(c.apiKey, "")

	var resp apiResponse
	err = c.do(req, &resp)
	if err != nil {
		return false, err
	}

	return resp.SignatureRequest.IsComplete, nil
}

// FetchSigned downloads the signed PDF. The provider returns 409 while it is
// still assembling the file, which maps to the ErrNotReady wait state.
func (c *Client) FetchSigned(ctx context.Context, ref, outputPath string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.baseURL+"/signature_request/files/"+ref+"?file_type=pdf", nil)
	if err != nil {
		return errors.Wrap(err, "")
	}
	req.SetBasicAuth(c.apiKey, "")

	httpResp, err := c.httpCl.Do(req)
	if err != nil {
		return errors.Wrap(sor.ErrProviderUnavailable, err.Error())
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode == http.StatusConflict {
		return errors.Wrap(sor.ErrNotReady, "signed file still being prepared", j.KV("ref", ref))
	}
	if httpResp.StatusCode != http.StatusOK {
		return errors.Wrap(sor.ErrProviderUnavailable, "fetch signed file", j.MKV{
			"ref":  ref,
			"code": httpResp.StatusCode,
		})
	}

	out, err := os.Create(outputPath)
	if err != nil {
		return errors.Wrap(err, "create output file", j.KV("path", outputPath))
	}
	defer out.Close()

	_, err = io.Copy(out, httpResp.Body)
	if err != nil {
		return errors.Wrap(err, "write signed file", j.KV("path", outputPath))
	}

	return nil
}

func (c *Client) do(req *http.Request, resp *apiResponse) error {
	httpResp, err := c.httpCl.Do(req)
	if err != nil {
		return errors.Wrap(sor.ErrProviderUnavailable, err.Error())
	}
	defer httpResp.Body.Close()

	err = json.NewDecoder(httpResp.Body).Decode(resp)
	if err != nil {
		return errors.Wrap(sor.ErrProviderUnavailable, "decode response", j.KV("code", httpResp.StatusCode))
	}

	if resp.Error != nil {
		return errors.Wrap(sor.ErrProviderUnavailable, resp.Error.Msg, j.KV("error_name", resp.Error.Name))
	}
	if httpResp.StatusCode != http.StatusOK {
		return errors.Wrap(sor.ErrProviderUnavailable, "unexpected status", j.KV("code", httpResp.StatusCode))
	}

	return nil
}
