package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/x402casper/relay/internal/casper"
	"github.com/x402casper/relay/internal/relay"
	"github.com/x402casper/relay/internal/validation"
)

// HandlerConfig groups dependencies for the relay HTTP surface.
type HandlerConfig struct {
	Service      *relay.Service
	ChainName    string
	ContractHash string
	RelayKey     casper.PublicKey
	Fees         casper.FeeSchedule
	Version      string
}

// RegisterRelayRoutes registers the settlement API on the router.
func RegisterRelayRoutes(r *gin.Engine, cfg HandlerConfig) {
	v := validation.New()

	r.POST("/settle", func(c *gin.Context) {
		var req validation.SettleRequest
		if err := validation.BindAndValidate(c, &req, v); err != nil {
			// BindAndValidate already wrote a 400
			return
		}

		result, settleErr := cfg.Service.Settle(c.Request.Context(), &req)
		if settleErr != nil {
			writeError(c, settleErr)
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"success":     true,
			"deploy_hash": result.DeployHash,
			"state":       result.State,
			"cost":        result.Cost,
		})
	})

	r.GET("/status/:deployHash", func(c *gin.Context) {
		status, statusErr := cfg.Service.Status(c.Request.Context(), c.Param("deployHash"))
		if statusErr != nil {
			writeError(c, statusErr)
			return
		}

		// 202 while the settlement is still being monitored
		code := http.StatusOK
		if !status.Terminal {
			code = http.StatusAccepted
		}
		c.JSON(code, status)
	})

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":    "ok",
			"timestamp": time.Now().UTC().Format(time.RFC3339),
			"version":   cfg.Version,
		})
	})

	r.GET("/get_config", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"contract_hash":    cfg.ContractHash,
			"network":          cfg.ChainName,
			"supported_tokens": supportedTokens,
			"fee_rates":        cfg.Fees,
			"endpoints": gin.H{
				"health":           "/health",
				"config":           "/get_config",
				"estimate_fees":    "/estimate_tx_fees",
				"settle":           "/settle",
				"status":           "/status/:deployHash",
				"supported_tokens": "/get_supported_tokens",
			},
		})
	})

	r.GET("/get_supported_tokens", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"tokens": supportedTokens})
	})

	r.POST("/estimate_tx_fees", func(c *gin.Context) {
		var req estimateFeesRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":  "validation_failed",
				"detail": "request body is not a well-formed fee estimate request",
			})
			return
		}
		breakdown := cfg.Fees.Estimate(req.InstructionCount)
		c.JSON(http.StatusOK, gin.H{
			"fee_in_motes":    breakdown.TotalFee,
			"signer_pubkey":   cfg.RelayKey.Hex(),
			"payment_address": cfg.RelayKey.AccountHash(),
			"breakdown":       breakdown,
		})
	})
}

var supportedTokens = []string{"CSPR"}

type estimateFeesRequest struct {
	TransactionSize  uint64 `json:"transaction_size"`
	InstructionCount uint64 `json:"instruction_count"`
}

func writeError(c *gin.Context, err *relay.Error) {
	body := gin.H{
		"error":  string(err.Kind),
		"detail": err.Detail,
	}
	if len(err.Fields) > 0 {
		body["fields"] = err.Fields
	}
	c.JSON(err.HTTPStatus(), body)
}
