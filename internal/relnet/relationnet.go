package relnet

import (
	"fmt"
	"path/filepath"
)

// DefaultConfigFile is merged by AddRelationNetConfig when no path is given.
const DefaultConfigFile = "./configs/relationnet_faster_R_50_C4.yaml"

// Block is the typed view of MODEL.RELATIONNET plus the box regression
// normalisation constants.
type Block struct {
	FeatDim       int     `yaml:"FEAT_DIM"`
	LearnNMSTrain bool    `yaml:"LEARN_NMS_TRAIN"`
	LearnNMSTest  bool    `yaml:"LEARN_NMS_TEST"`
	NumRelation   int     `yaml:"NUM_RELATION"`
	PosEmbDim     int     `yaml:"POS_EMB_DIM"`
	AttFCDim      int     `yaml:"ATT_FC_DIM"`
	AttGroups     int     `yaml:"ATT_GROUPS"`
	AttDim        []int   `yaml:"ATT_DIM"`
	FirstNTrain   int     `yaml:"FIRST_N_TRAIN"`
	FirstNTest    int     `yaml:"FIRST_N_TEST"`
	NMSFCDim      int     `yaml:"NMS_FC_DIM"`
	NMSPosScale   float64 `yaml:"NMS_POS_SCALE"`
	NMSLossScale  float64 `yaml:"NMS_LOSS_SCALE"`

	BBoxMeans []float64 `yaml:"-"`
	BBoxStds  []float64 `yaml:"-"`
}

// AddRelationNetConfig merges the RelationNet YAML file at path (or
// DefaultConfigFile) into cfg, then installs MODEL.RELATIONNET and the
// global BBOX_MEANS/BBOX_STDS. The installed values overwrite any the file
// set for the same keys.
func AddRelationNetConfig(cfg *Node, path string) error {
	if path == "" {
		path = DefaultConfigFile
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	if err := cfg.MergeFromFile(abs); err != nil {
		return err
	}

	sets := []struct {
		key string
		val any
	}{
		{"MODEL.RELATIONNET", NewNode()},
		{"MODEL.RELATIONNET.FEAT_DIM", 1024},
		{"MODEL.RELATIONNET.LEARN_NMS_TRAIN", true},
		{"MODEL.RELATIONNET.LEARN_NMS_TEST", false},
		{"MODEL.RELATIONNET.NUM_RELATION", 1},
		{"MODEL.RELATIONNET.POS_EMB_DIM", 64},
		{"MODEL.RELATIONNET.ATT_FC_DIM", 16},
		{"MODEL.RELATIONNET.ATT_GROUPS", 16},
		{"MODEL.RELATIONNET.ATT_DIM", []int{1024, 1024, 1024}},
		{"MODEL.RELATIONNET.FIRST_N_TRAIN", 100},
		{"MODEL.RELATIONNET.FIRST_N_TEST", 200},
		{"MODEL.RELATIONNET.NMS_FC_DIM", 128},
		{"MODEL.RELATIONNET.NMS_POS_SCALE", 4.0},
		{"MODEL.RELATIONNET.NMS_LOSS_SCALE", 6400.0},
		{"BBOX_MEANS", []float64{0, 0, 0, 0}},
		{"BBOX_STDS", []float64{0.1, 0.1, 0.2, 0.2}},
	}
	for _, s := range sets {
		if err := cfg.Set(s.key, s.val); err != nil {
			return err
		}
	}
	return nil
}

// RelationNet decodes the RelationNet settings of cfg.
func RelationNet(cfg *Node) (Block, error) {
	var b Block
	sub, err := cfg.Sub("MODEL.RELATIONNET")
	if err != nil {
		return b, err
	}
	if err := sub.toYAML().Decode(&b); err != nil {
		return b, fmt.Errorf("relnet: decode MODEL.RELATIONNET: %w", err)
	}
	if b.BBoxMeans, err = floatList(cfg, "BBOX_MEANS"); err != nil {
		return b, err
	}
	if b.BBoxStds, err = floatList(cfg, "BBOX_STDS"); err != nil {
		return b, err
	}
	return b, nil
}

func floatList(cfg *Node, key string) ([]float64, error) {
	v, ok := cfg.Get(key)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownKey, key)
	}
	var out []float64
	if err := valueToYAML(v).Decode(&out); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrTypeMismatch, key, err)
	}
	return out, nil
}

// DefaultConfig returns the base two-stage detector settings that
// RelationNet files are merged into.
func DefaultConfig() *Node {
	cfg := NewNode()
	defaults := []struct {
		key string
		val any
	}{
		{"VERSION", 2},
		{"MODEL.META_ARCHITECTURE", "GeneralizedRCNN"},
		{"MODEL.WEIGHTS", ""},
		{"MODEL.DEVICE", "cuda"},
		{"MODEL.MASK_ON", false},
		{"MODEL.PIXEL_MEAN", []float64{103.53, 116.28, 123.675}},
		{"MODEL.PIXEL_STD", []float64{1.0, 1.0, 1.0}},
		{"MODEL.BACKBONE.NAME", "build_resnet_backbone"},
		{"MODEL.BACKBONE.FREEZE_AT", 2},
		{"MODEL.RESNETS.DEPTH", 50},
		{"MODEL.RESNETS.OUT_FEATURES", []string{"res4"}},
		{"MODEL.RESNETS.NORM", "FrozenBN"},
		{"MODEL.RESNETS.STRIDE_IN_1X1", true},
		{"MODEL.RPN.IN_FEATURES", []string{"res4"}},
		{"MODEL.RPN.PRE_NMS_TOPK_TRAIN", 12000},
		{"MODEL.RPN.PRE_NMS_TOPK_TEST", 6000},
		{"MODEL.RPN.POST_NMS_TOPK_TRAIN", 2000},
		{"MODEL.RPN.POST_NMS_TOPK_TEST", 1000},
		{"MODEL.RPN.NMS_THRESH", 0.7},
		{"MODEL.ROI_HEADS.NAME", "Res5ROIHeads"},
		{"MODEL.ROI_HEADS.NUM_CLASSES", 80},
		{"MODEL.ROI_HEADS.IN_FEATURES", []string{"res4"}},
		{"MODEL.ROI_HEADS.BATCH_SIZE_PER_IMAGE", 512},
		{"MODEL.ROI_HEADS.POSITIVE_FRACTION", 0.25},
		{"MODEL.ROI_HEADS.SCORE_THRESH_TEST", 0.05},
		{"MODEL.ROI_HEADS.NMS_THRESH_TEST", 0.5},
		{"MODEL.ROI_BOX_HEAD.NAME", ""},
		{"MODEL.ROI_BOX_HEAD.NUM_FC", 0},
		{"MODEL.ROI_BOX_HEAD.FC_DIM", 1024},
		{"MODEL.ROI_BOX_HEAD.POOLER_RESOLUTION", 14},
		{"MODEL.ROI_BOX_HEAD.POOLER_TYPE", "ROIAlignV2"},
		{"INPUT.MIN_SIZE_TRAIN", []int{800}},
		{"INPUT.MAX_SIZE_TRAIN", 1333},
		{"INPUT.MIN_SIZE_TEST", 800},
		{"INPUT.MAX_SIZE_TEST", 1333},
		{"INPUT.FORMAT", "BGR"},
		{"DATASETS.TRAIN", []string{}},
		{"DATASETS.TEST", []string{}},
		{"DATALOADER.NUM_WORKERS", 4},
		{"SOLVER.IMS_PER_BATCH", 16},
		{"SOLVER.BASE_LR", 0.001},
		{"SOLVER.MOMENTUM", 0.9},
		{"SOLVER.WEIGHT_DECAY", 0.0001},
		{"SOLVER.STEPS", []int{30000}},
		{"SOLVER.MAX_ITER", 40000},
		{"SOLVER.WARMUP_ITERS", 1000},
		{"SOLVER.CHECKPOINT_PERIOD", 5000},
		{"TEST.EVAL_PERIOD", 0},
		{"TEST.DETECTIONS_PER_IMAGE", 100},
		{"OUTPUT_DIR", "./output"},
		{"SEED", -1},
	}
	for _, d := range defaults {
		if err := cfg.Set(d.key, d.val); err != nil {
			panic(err)
		}
	}
	return cfg
}
