package main

import (
	"net/http"

	"bitbucket.org/mmdatafocus/drum_backend/utils"
	"bitbucket.org/mmdatafocus/drum_backend/workflow"
	"github.com/gin-gonic/gin"
)

type batchScanRequest struct {
	Scans []workflow.ScanRequest `json:"scans" validate:"required,min=1,max=100,dive"`
}

type batchScanResponse struct {
	Results  []*workflow.ScanResult `json:"results"`
	Accepted int                    `json:"accepted"`
	Rejected int                    `json:"rejected"`
	Fatal    int                    `json:"fatal"`
}

func invalidRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, gin.H{
		"message": "Invalid request data format",
		"errors":  utils.ProcessValidationErrors(err),
	})
}

func writeScanResult(c *gin.Context, res *workflow.ScanResult) {
	status := res.HTTPStatus()
	if res.Accepted() {
		c.JSON(status, gin.H{"success": true, "data": res})
		return
	}
	if res.Err != nil {
		_ = c.Error(res.Err)
	}
	c.JSON(status, gin.H{"message": res.Message, "reason": res.Reason, "data": res})
}

func (a *app) scanHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		scanner, _ := a.currentScanner()
		if scanner == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"message": "service starting"})
			return
		}

		var req workflow.ScanRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			invalidRequest(c, err)
			return
		}
		if err := utils.ValidateStruct(&req); err != nil {
			invalidRequest(c, err)
			return
		}
		if req.ScannerId == "" {
			req.ScannerId, _ = utils.GetScannerIdFromContext(c.Request.Context())
		}
		req.Source = workflow.ScanSourceHTTP

		writeScanResult(c, scanner.Scan(c.Request.Context(), req))
	}
}

// batchScanHandler replays an offline scanner's buffer in the order it was captured.
// Each item gets its own outcome; the response is 200 unless the request itself is malformed.
func (a *app) batchScanHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		scanner, _ := a.currentScanner()
		if scanner == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"message": "service starting"})
			return
		}

		var req batchScanRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			invalidRequest(c, err)
			return
		}
		if err := utils.ValidateStruct(&req); err != nil {
			invalidRequest(c, err)
			return
		}

		ctx := c.Request.Context()
		headerScanner, _ := utils.GetScannerIdFromContext(ctx)
		out := batchScanResponse{Results: make([]*workflow.ScanResult, 0, len(req.Scans))}
		for _, item := range req.Scans {
			if ctx.Err() != nil {
				break
			}
			if item.ScannerId == "" {
				item.ScannerId = headerScanner
			}
			item.Source = workflow.ScanSourceBatch
			res := scanner.Scan(ctx, item)
			switch res.Outcome {
			case workflow.ScanAccepted:
				out.Accepted++
			case workflow.ScanRejected:
				out.Rejected++
			default:
				out.Fatal++
				if res.Err != nil {
					_ = c.Error(res.Err)
				}
			}
			out.Results = append(out.Results, res)
		}
		c.JSON(http.StatusOK, gin.H{"success": true, "data": out})
	}
}
